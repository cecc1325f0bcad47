package hmrc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bav/internal/platform/config"
)

// TokenCache holds at most one bearer token.
type TokenCache interface {
	Get(ctx context.Context) (Token, bool, error)
	Set(ctx context.Context, token Token) error
	// DeleteIf drops the cached token only while its value is still value.
	DeleteIf(ctx context.Context, value string) error
}

type tokenAcquirer interface {
	AcquireToken(ctx context.Context, maxRetries int, backoff time.Duration) (Token, error)
}

// TokenProvider hands out a cached token while it is outside the renewal
// window and acquires a new one otherwise. Acquisition is serialised within
// the process so concurrent requests do not stampede the token endpoint.
type TokenProvider struct {
	acquirer    tokenAcquirer
	cache       TokenCache
	maxRetries  int
	backoff     time.Duration
	renewBefore time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     *Metrics

	mu sync.Mutex
}

type TokenProviderOption func(*TokenProvider)

func WithTokenClock(now func() time.Time) TokenProviderOption {
	return func(p *TokenProvider) {
		if now != nil {
			p.now = now
		}
	}
}

func WithTokenLogger(logger *slog.Logger) TokenProviderOption {
	return func(p *TokenProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithTokenMetrics(m *Metrics) TokenProviderOption {
	return func(p *TokenProvider) { p.metrics = m }
}

func NewTokenProvider(acquirer tokenAcquirer, cache TokenCache, cfg config.HMRCConfig, opts ...TokenProviderOption) *TokenProvider {
	if cache == nil {
		cache = NewMemoryTokenCache()
	}
	p := &TokenProvider{
		acquirer:    acquirer,
		cache:       cache,
		maxRetries:  cfg.TokenMaxRetries,
		backoff:     cfg.TokenBackoff,
		renewBefore: cfg.TokenRenewBefore,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a bearer token value.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if tok, ok := p.cached(ctx); ok {
		return tok.Value, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// another request may have refreshed while we waited
	if tok, ok := p.cached(ctx); ok {
		return tok.Value, nil
	}

	tok, err := p.acquirer.AcquireToken(ctx, p.maxRetries, p.backoff)
	if err != nil {
		return "", err
	}
	if err := p.cache.Set(ctx, tok); err != nil {
		p.logger.WarnContext(ctx, "failed to cache HMRC token", "error", err)
	}
	return tok.Value, nil
}

// Invalidate drops the cached token so the next call re-acquires. A token
// refreshed since value was handed out is left in place.
func (p *TokenProvider) Invalidate(ctx context.Context, value string) error {
	if err := p.cache.DeleteIf(ctx, value); err != nil {
		return fmt.Errorf("invalidate hmrc token: %w", err)
	}
	return nil
}

func (p *TokenProvider) cached(ctx context.Context) (Token, bool) {
	tok, ok, err := p.cache.Get(ctx)
	if err != nil {
		p.metrics.IncTokenCache("error")
		p.logger.WarnContext(ctx, "failed to read cached HMRC token", "error", err)
		return Token{}, false
	}
	if !ok || !p.now().Before(tok.ExpiresAt().Add(-p.renewBefore)) {
		p.metrics.IncTokenCache("miss")
		return Token{}, false
	}
	p.metrics.IncTokenCache("hit")
	return tok, true
}

// MemoryTokenCache keeps the token in process.
type MemoryTokenCache struct {
	mu    sync.RWMutex
	token *Token
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{}
}

func (c *MemoryTokenCache) Get(context.Context) (Token, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil {
		return Token{}, false, nil
	}
	return *c.token, true, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, token Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = &token
	return nil
}

func (c *MemoryTokenCache) DeleteIf(_ context.Context, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Value == value {
		c.token = nil
	}
	return nil
}

// deleteIfValue removes the cached token only when it still holds ARGV[1].
var deleteIfValue = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local tok = cjson.decode(raw)
if tok.value ~= ARGV[1] then return 0 end
return redis.call('DEL', KEYS[1])
`)

// RedisTokenCache shares the token across instances. The key expires with the token.
type RedisTokenCache struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisTokenCache(client *redis.Client, prefix string) *RedisTokenCache {
	if prefix == "" {
		prefix = "bav"
	}
	return &RedisTokenCache{client: client, key: prefix + ":hmrc:token", now: time.Now}
}

func (c *RedisTokenCache) Get(ctx context.Context) (Token, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, false, fmt.Errorf("decode cached token: %w", err)
	}
	return tok, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, token Token) error {
	ttl := token.ExpiresAt().Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return c.client.Set(ctx, c.key, raw, ttl).Err()
}

func (c *RedisTokenCache) DeleteIf(ctx context.Context, value string) error {
	return deleteIfValue.Run(ctx, c.client, []string{c.key}, value).Err()
}
