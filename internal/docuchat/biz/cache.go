package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/docuchat/internal/docuchat/model"
	"github.com/kart-io/docuchat/pkg/utils/json"
)

// QueryCacheConfig 查询缓存配置。
type QueryCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultQueryCacheConfig 返回默认的查询缓存配置。
func DefaultQueryCacheConfig() *QueryCacheConfig {
	return &QueryCacheConfig{
		Enabled:   false,
		TTL:       5 * time.Minute,
		KeyPrefix: "docuchat:query:",
	}
}

// QueryCache 按会话隔离缓存问答结果。
// 缓存对正确性是透明的：任何缓存层错误都降级为未命中。
type QueryCache struct {
	redis  *goredis.Client
	config *QueryCacheConfig
}

// NewQueryCache 创建查询缓存实例。
func NewQueryCache(redis *goredis.Client, config *QueryCacheConfig) *QueryCache {
	if config == nil {
		config = DefaultQueryCacheConfig()
	}
	return &QueryCache{
		redis:  redis,
		config: config,
	}
}

func (c *QueryCache) enabled() bool {
	return c != nil && c.config.Enabled && c.redis != nil
}

// sessionKeyPrefix 每个会话的键前缀，重新上传时按前缀整体失效。
func (c *QueryCache) sessionKeyPrefix(sessionID string) string {
	hash := sha256.Sum256([]byte(sessionID))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:8]) + ":"
}

func (c *QueryCache) cacheKey(sessionID, question string) string {
	hash := sha256.Sum256([]byte(question))
	return c.sessionKeyPrefix(sessionID) + hex.EncodeToString(hash[:])
}

// Get 从缓存获取问答结果，未命中或出错返回 nil。
func (c *QueryCache) Get(ctx context.Context, sessionID, question string) *model.QueryResult {
	if !c.enabled() {
		return nil
	}

	key := c.cacheKey(sessionID, question)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("failed to get from query cache", "error", err.Error(), "key", key)
		}
		return nil
	}

	var result model.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		logger.Warnw("failed to unmarshal cached result, dropping entry", "error", err.Error(), "key", key)
		_ = c.redis.Del(ctx, key).Err()
		return nil
	}

	logger.Debugw("query cache hit", "key", key)
	return &result
}

// Set 将问答结果写入缓存。写入失败只记录，不影响正常返回。
func (c *QueryCache) Set(ctx context.Context, sessionID, question string, result *model.QueryResult) {
	if !c.enabled() || result == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		logger.Warnw("failed to marshal result for caching", "error", err.Error())
		return
	}

	key := c.cacheKey(sessionID, question)
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to set query cache", "error", err.Error(), "key", key)
	}
}

// Invalidate 清除一个会话的所有缓存答案。
// 重新上传替换索引后，旧索引生成的答案不能再被返回。
func (c *QueryCache) Invalidate(ctx context.Context, sessionID string) {
	if !c.enabled() {
		return
	}

	pattern := c.sessionKeyPrefix(sessionID) + "*"
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()

	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
		} else {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		logger.Warnw("error during cache invalidation scan", "error", err.Error())
		return
	}

	if deleted > 0 {
		logger.Infow("invalidated session query cache", "session_id", sessionID, "deleted", deleted)
	}
}
