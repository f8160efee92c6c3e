// Package docuchat provides the document Q&A server implementation.
package docuchat

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/docuchat/internal/docuchat/biz"
	"github.com/kart-io/docuchat/internal/docuchat/handler"
	"github.com/kart-io/docuchat/internal/docuchat/router"
	"github.com/kart-io/docuchat/internal/docuchat/session"
	"github.com/kart-io/docuchat/internal/pkg/docload"
	"github.com/kart-io/docuchat/pkg/app"
	"github.com/kart-io/docuchat/pkg/infra/pool"
	"github.com/kart-io/docuchat/pkg/llm"
	"github.com/kart-io/docuchat/pkg/llm/resilience"
	"github.com/kart-io/docuchat/pkg/middleware"
	authopts "github.com/kart-io/docuchat/pkg/options/auth"
	docuchatopts "github.com/kart-io/docuchat/pkg/options/docuchat"
	llmopts "github.com/kart-io/docuchat/pkg/options/llm"
	logopts "github.com/kart-io/docuchat/pkg/options/logger"
	ratelimitopts "github.com/kart-io/docuchat/pkg/options/ratelimit"
	redisopts "github.com/kart-io/docuchat/pkg/options/redis"
	sessionopts "github.com/kart-io/docuchat/pkg/options/session"
	httpopts "github.com/kart-io/docuchat/pkg/options/server/http"

	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/docuchat/pkg/llm/gemini"
	_ "github.com/kart-io/docuchat/pkg/llm/ollama"
	_ "github.com/kart-io/docuchat/pkg/llm/openai"
	_ "github.com/kart-io/docuchat/pkg/llm/together"
)

// Name is the name of the application.
const Name = "docuchat"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	LLMOptions       *llmopts.ChainOptions
	DocuChatOptions  *docuchatopts.Options
	SessionOptions   *sessionopts.Options
	RateLimitOptions *ratelimitopts.Options
	AuthOptions      *authopts.Options
	RedisOptions     *redisopts.Options
	ShutdownTimeout  time.Duration
}

// Server represents the document Q&A server.
type Server struct {
	httpSrv         *http.Server
	sessions        *session.Store
	redisClose      func()
	shutdownTimeout time.Duration
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(_ context.Context) (*Server, error) {
	// 1. 初始化日志
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting document Q&A service...")

	// 2. 初始化协程池
	if err := pool.InitGlobal(); err != nil {
		return nil, fmt.Errorf("failed to initialize goroutine pools: %w", err)
	}

	// 3. 初始化 Redis 客户端（可选，不可用时退化为纯内存）
	redisClient, redisClose := cfg.connectRedis()

	// 4. 构建供应商降级链
	chain, embedProvider, err := cfg.buildChain(redisClient)
	if err != nil {
		return nil, err
	}

	// 5. 会话存储与后台清理
	sessions := session.NewStore(cfg.SessionOptions.TTL)
	sessions.StartSweeper(cfg.SessionOptions.SweepInterval)
	logger.Infow("Session store initialized",
		"ttl", cfg.SessionOptions.TTL,
		"sweep_interval", cfg.SessionOptions.SweepInterval,
	)

	// 6. 初始化 Biz 层
	var cache *biz.QueryCache
	if redisClient != nil && cfg.DocuChatOptions.CacheTTL > 0 {
		cacheConfig := biz.DefaultQueryCacheConfig()
		cacheConfig.Enabled = true
		cacheConfig.TTL = time.Duration(cfg.DocuChatOptions.CacheTTL) * time.Second
		cache = biz.NewQueryCache(redisClient, cacheConfig)
		logger.Infow("Query cache initialized", "ttl", cacheConfig.TTL)
	}

	loader := docload.NewLoader(cfg.DocuChatOptions.MaxUploadBytes)
	service := biz.NewService(sessions, loader, chain, embedProvider, cache, &biz.ServiceConfig{
		IndexerConfig: &biz.IndexerConfig{
			ChunkSize:    cfg.DocuChatOptions.ChunkSize,
			ChunkOverlap: cfg.DocuChatOptions.ChunkOverlap,
		},
		AnswererConfig: &biz.AnswererConfig{
			TopK:           cfg.DocuChatOptions.TopK,
			PromptTemplate: cfg.DocuChatOptions.PromptTemplate,
		},
	})
	logger.Infow("Q&A service initialized",
		"chunk_size", cfg.DocuChatOptions.ChunkSize,
		"chunk_overlap", cfg.DocuChatOptions.ChunkOverlap,
		"top_k", cfg.DocuChatOptions.TopK,
		"providers", chain.Names(),
		"providers_skipped", chain.Skipped(),
	)

	// 7. Handler 与路由
	h := handler.NewHandler(service, sessions, cfg.DocuChatOptions.MaxUploadBytes)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.CORSWithConfig(middleware.DefaultCORSConfig),
	)

	uploadLimiter, queryLimiter := cfg.buildLimiters(redisClient)
	router.Register(engine, h, &router.Config{
		AuthKey:       cfg.AuthOptions.SharedKey,
		AuthHeader:    cfg.AuthOptions.Header,
		UploadLimiter: uploadLimiter,
		QueryLimiter:  queryLimiter,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
		WriteTimeout: cfg.HTTPOptions.WriteTimeout,
		IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
	}

	logger.Info("Document Q&A service is ready")
	return &Server{
		httpSrv:         httpSrv,
		sessions:        sessions,
		redisClose:      redisClose,
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// connectRedis dials Redis when enabled. Connection failure is not fatal:
// the service falls back to in-memory rate limiting and disables caching.
func (cfg *Config) connectRedis() (*goredis.Client, func()) {
	if cfg.RedisOptions == nil || !cfg.RedisOptions.Enabled {
		logger.Info("Redis is disabled, using in-memory backends")
		return nil, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.RedisOptions.Addr(),
		Password:     cfg.RedisOptions.Password,
		DB:           cfg.RedisOptions.Database,
		MaxRetries:   cfg.RedisOptions.MaxRetries,
		PoolSize:     cfg.RedisOptions.PoolSize,
		DialTimeout:  cfg.RedisOptions.DialTimeout,
		ReadTimeout:  cfg.RedisOptions.ReadTimeout,
		WriteTimeout: cfg.RedisOptions.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warnw("failed to connect to redis, falling back to in-memory backends",
			"addr", cfg.RedisOptions.Addr(),
			"error", err.Error(),
		)
		_ = client.Close()
		return nil, nil
	}

	logger.Infow("Redis client initialized", "addr", cfg.RedisOptions.Addr())
	return client, func() { _ = client.Close() }
}

// buildChain constructs the provider fallback chain. Each chat provider is
// wrapped with retry and circuit breaking, the embedder of the first entry
// additionally gets a Redis cache when available.
func (cfg *Config) buildChain(redisClient *goredis.Client) (*llm.Chain, llm.EmbeddingProvider, error) {
	entries, skipped, err := llm.BuildEntries(cfg.LLMOptions.Order, func(name string) map[string]any {
		if p := cfg.LLMOptions.Get(name); p != nil {
			return p.ToConfigMap()
		}
		// 未知名称交给注册表报错
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build provider chain: %w", err)
	}

	for i := range entries {
		entries[i].Chat = resilience.NewResilientChatProvider(entries[i].Chat, nil, nil)
		entries[i].Embed = resilience.NewResilientEmbeddingProvider(entries[i].Embed, nil, nil)
	}

	chain := llm.NewChain(entries, skipped)
	if chain.Empty() {
		logger.Warnw("no answer provider configured, queries will fail until credentials are provided",
			"order", cfg.LLMOptions.Order,
			"skipped", skipped,
		)
		return chain, nil, nil
	}

	embedProvider := chain.Embedder()
	if redisClient != nil {
		embedProvider = llm.NewCachedEmbeddingProvider(embedProvider, redisClient, nil)
		logger.Info("Embedding cache initialized")
	}

	return chain, embedProvider, nil
}

// buildLimiters 按配置的后端构建分接口限流器。
func (cfg *Config) buildLimiters(redisClient *goredis.Client) (middleware.RateLimiter, middleware.RateLimiter) {
	opts := cfg.RateLimitOptions
	if opts.Backend == "redis" && redisClient != nil {
		return middleware.NewRedisRateLimiter(redisClient, opts.UploadLimit, opts.UploadWindow),
			middleware.NewRedisRateLimiter(redisClient, opts.QueryLimit, opts.QueryWindow)
	}
	if opts.Backend == "redis" {
		logger.Warn("redis rate limiter requested but redis is unavailable, using memory limiter")
	}
	return middleware.NewMemoryRateLimiter(opts.UploadLimit, opts.UploadWindow),
		middleware.NewMemoryRateLimiter(opts.QueryLimit, opts.QueryWindow)
}

// Run starts the HTTP server and blocks until a termination signal arrives.
func (s *Server) Run(_ context.Context) error {
	defer func() {
		s.sessions.Stop()
		if s.redisClose != nil {
			s.redisClose()
		}
		if err := pool.CloseGlobal(); err != nil {
			logger.Warnw("failed to close goroutine pools", "error", err.Error())
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case sig := <-quit:
		logger.Infow("Shutting down server...", "signal", sig.String())
	}

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
