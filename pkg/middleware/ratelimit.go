package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/redis/go-redis/v9"

	"github.com/kart-io/docuchat/pkg/errors"
	"github.com/kart-io/docuchat/pkg/utils/response"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if a request with the given key is allowed.
	// Returns true if allowed, false if rate limit exceeded.
	// A rejected request must not be recorded against the window.
	Allow(ctx context.Context, key string) (bool, error)

	// Reset resets the rate limit counter for the given key.
	Reset(ctx context.Context, key string) error
}

// RateLimitConfig defines the configuration for rate limiting middleware.
type RateLimitConfig struct {
	// Limit is the maximum number of requests allowed within the time window.
	// Default: 100
	Limit int

	// Window is the time window duration for rate limiting.
	// Default: 1 minute
	Window time.Duration

	// KeyFunc is a function to extract the rate limit key from the context.
	// Default: uses client IP address
	KeyFunc func(c *gin.Context) string

	// SkipPaths is a list of paths to skip rate limiting.
	SkipPaths []string

	// OnLimitReached is called when rate limit is exceeded.
	// Can be used for custom logging or alerting.
	OnLimitReached func(c *gin.Context)

	// Limiter is the rate limiter implementation to use.
	// If nil, a memory-based limiter will be created.
	Limiter RateLimiter

	// TrustedProxies is a list of trusted proxy IP addresses or CIDR ranges.
	// When empty, proxy headers (X-Forwarded-For, X-Real-IP) are not trusted.
	// Example: []string{"127.0.0.1", "10.0.0.0/8", "172.16.0.0/12"}
	TrustedProxies []string

	// TrustProxyHeaders controls whether to trust proxy headers for IP extraction.
	// Even if true, headers are only trusted when requests come from TrustedProxies.
	// Default: false (do not trust proxy headers)
	TrustProxyHeaders bool
}

// DefaultRateLimitConfig is the default rate limit configuration.
var DefaultRateLimitConfig = RateLimitConfig{
	Limit:             100,
	Window:            1 * time.Minute,
	SkipPaths:         []string{},
	TrustedProxies:    []string{}, // Empty by default - do not trust proxy headers
	TrustProxyHeaders: false,
}

// RateLimit returns a rate limiting middleware with default configuration.
func RateLimit() gin.HandlerFunc {
	return RateLimitWithConfig(DefaultRateLimitConfig)
}

// RateLimitWithConfig returns a rate limiting middleware with custom configuration.
func RateLimitWithConfig(config RateLimitConfig) gin.HandlerFunc {
	config = validateConfig(config)

	skipPaths := buildSkipPathsMap(config.SkipPaths)

	return func(c *gin.Context) {
		// Skip rate limiting for configured paths
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		key := extractKey(c, config)

		allowed, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// 限流后端故障时放行请求，可用性优先于限流精度。
			logger.Errorw("rate limiter error",
				"error", err.Error(),
				"key", key,
			)
			c.Next()
			return
		}

		if !allowed {
			if config.OnLimitReached != nil {
				config.OnLimitReached(c)
			}

			// 客户端最迟等一个完整窗口就能重试
			c.Header("Retry-After", strconv.Itoa(int(config.Window/time.Second)))

			resp := response.Err(errors.ErrRateLimitExceeded).WithRequestID(GetRequestID(c))
			defer response.Release(resp)
			c.AbortWithStatusJSON(resp.HTTPStatus(), resp)
			return
		}

		c.Next()
	}
}

// ============================================================================
// Configuration Validation
// ============================================================================

// validateConfig validates and sets default values for the configuration.
func validateConfig(config RateLimitConfig) RateLimitConfig {
	if config.Limit <= 0 {
		config.Limit = DefaultRateLimitConfig.Limit
	}

	if config.Window <= 0 {
		config.Window = DefaultRateLimitConfig.Window
	}

	if config.KeyFunc == nil {
		// Use closure to capture config for IP extraction
		config.KeyFunc = func(c *gin.Context) string {
			return extractClientIP(c, config)
		}
	}

	if config.SkipPaths == nil {
		config.SkipPaths = []string{}
	}

	if config.Limiter == nil {
		config.Limiter = NewMemoryRateLimiter(config.Limit, config.Window)
	}

	return config
}

// ============================================================================
// Key Extraction
// ============================================================================

// extractKey extracts the rate limit key using the configured KeyFunc.
// Falls back to RemoteAddr if the key function returns empty string.
func extractKey(c *gin.Context, config RateLimitConfig) string {
	key := config.KeyFunc(c)
	if key == "" {
		key = getRemoteIP(c.Request)
	}
	return key
}

// extractClientIP extracts the real client IP from the request.
// It only trusts proxy headers (X-Forwarded-For, X-Real-IP) when:
// 1. TrustProxyHeaders is enabled in config
// 2. The request comes from a trusted proxy IP/CIDR
// This prevents IP spoofing attacks via forged headers.
func extractClientIP(c *gin.Context, config RateLimitConfig) string {
	remoteIP := getRemoteIP(c.Request)

	if config.TrustProxyHeaders && isTrustedProxy(remoteIP, config.TrustedProxies) {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		// Use the first IP which should be the original client
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			ips := strings.Split(xff, ",")
			if len(ips) > 0 {
				ip := strings.TrimSpace(ips[0])
				if isValidIP(ip) {
					return ip
				}
			}
		}

		if xri := c.GetHeader("X-Real-IP"); xri != "" {
			xri = strings.TrimSpace(xri)
			if isValidIP(xri) {
				return xri
			}
		}
	}

	// Fall back to remote address (directly connected IP)
	// This is always safe as it cannot be spoofed
	return remoteIP
}

// getRemoteIP extracts the IP address from http.Request.RemoteAddr.
// RemoteAddr is in the form "IP:port", so we need to split it.
func getRemoteIP(req *http.Request) string {
	ip, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return ip
}

// isTrustedProxy checks if the given IP is in the list of trusted proxies.
// Supports both individual IPs and CIDR ranges.
func isTrustedProxy(ip string, trustedCIDRs []string) bool {
	if len(trustedCIDRs) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, cidr := range trustedCIDRs {
		// Support both single IP addresses and CIDR notation
		if !strings.Contains(cidr, "/") {
			if cidr == ip {
				return true
			}
			continue
		}

		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warnw("invalid CIDR in trusted proxies",
				"cidr", cidr,
				"error", err.Error(),
			)
			continue
		}

		if network.Contains(parsedIP) {
			return true
		}
	}

	return false
}

// isValidIP validates that the given string is a valid IP address.
// This prevents injection of invalid data into rate limiting keys.
func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

// buildSkipPathsMap builds a map for fast path lookup.
func buildSkipPathsMap(paths []string) map[string]bool {
	skipMap := make(map[string]bool, len(paths))
	for _, path := range paths {
		skipMap[path] = true
	}
	return skipMap
}

// ============================================================================
// Memory Rate Limiter Implementation
// ============================================================================

// MemoryRateLimiter implements rate limiting using in-memory storage.
// It uses a sliding window algorithm over per-key request timestamps.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	store  *sync.Map
	// cleanup goroutine cancellation
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// rateLimitEntry stores rate limit data for a single key.
type rateLimitEntry struct {
	requests  []time.Time
	mu        sync.Mutex
	lastCheck time.Time
}

// NewMemoryRateLimiter creates a new memory-based rate limiter.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	limiter := &MemoryRateLimiter{
		limit:       limit,
		window:      window,
		store:       &sync.Map{},
		stopCleanup: make(chan struct{}),
	}

	go limiter.cleanupExpiredEntries()

	return limiter
}

// Allow checks if a request with the given key is allowed.
// 先检查后记录：被拒绝的请求不会占用窗口名额。
func (m *MemoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()

	value, _ := m.store.LoadOrStore(key, &rateLimitEntry{
		requests:  make([]time.Time, 0, m.limit),
		lastCheck: now,
	})

	entry := value.(*rateLimitEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.lastCheck = now

	// Remove expired requests (outside the window)
	cutoff := now.Add(-m.window)
	entry.requests = filterExpiredRequests(entry.requests, cutoff)

	if len(entry.requests) >= m.limit {
		return false, nil
	}

	entry.requests = append(entry.requests, now)

	return true, nil
}

// Reset resets the rate limit counter for the given key.
func (m *MemoryRateLimiter) Reset(ctx context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// Stop stops the cleanup goroutine.
func (m *MemoryRateLimiter) Stop() {
	m.cleanupOnce.Do(func() {
		close(m.stopCleanup)
	})
}

// cleanupExpiredEntries periodically removes expired entries from memory.
func (m *MemoryRateLimiter) cleanupExpiredEntries() {
	ticker := time.NewTicker(m.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

// performCleanup removes entries that haven't been accessed recently.
func (m *MemoryRateLimiter) performCleanup() {
	threshold := time.Now().Add(-m.window * 2) // Keep entries for 2x window duration

	m.store.Range(func(key, value interface{}) bool {
		entry := value.(*rateLimitEntry)
		entry.mu.Lock()
		lastCheck := entry.lastCheck
		entry.mu.Unlock()

		if lastCheck.Before(threshold) {
			m.store.Delete(key)
		}
		return true
	})
}

// filterExpiredRequests removes timestamps that are outside the time window.
func filterExpiredRequests(requests []time.Time, cutoff time.Time) []time.Time {
	validIdx := len(requests)
	for i, t := range requests {
		if t.After(cutoff) {
			validIdx = i
			break
		}
	}
	return requests[validIdx:]
}

// ============================================================================
// Redis Rate Limiter Implementation
// ============================================================================

// redisAllowScript counts live entries and appends the request only when the
// window still has room. Running as a Lua script keeps check-and-record
// atomic across concurrent API instances.
// KEYS[1] = window key
// ARGV[1] = min score (window start, ns), ARGV[2] = now (ns),
// ARGV[3] = limit, ARGV[4] = key TTL (seconds)
var redisAllowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '0', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisRateLimiter implements rate limiting using Redis sorted sets for
// sliding window accounting shared across instances.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:",
	}
}

// Allow checks if a request with the given key is allowed using Redis.
// 被拒绝的请求不写入有序集合。
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	redisKey := r.prefix + key

	minScore := fmt.Sprintf("%d", now.Add(-r.window).UnixNano())
	ttl := int64(r.window/time.Second) * 2

	result, err := redisAllowScript.Run(ctx, r.client, []string{redisKey},
		minScore,
		fmt.Sprintf("%d", now.UnixNano()),
		r.limit,
		ttl,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit script: %w", err)
	}

	return result == 1, nil
}

// Reset resets the rate limit counter for the given key in Redis.
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
