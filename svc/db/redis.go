package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"vanishbin/cfg"
	"vanishbin/pkg/domain"
)

// Hash fields of a stored paste. -1 stands for an absent expires_at/max_views.
const (
	fieldContent   = "content"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldMaxViews  = "max_views"
	fieldViewsUsed = "views_used"
)

// Reply codes of consumeScript besides nil (missing) and the record array.
const (
	replyExpiredByTime  = 1
	replyExpiredByViews = 2
)

var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "content", ARGV[1],
  "created_at", ARGV[2],
  "expires_at", ARGV[3],
  "max_views", ARGV[4],
  "views_used", "0")
return 1
`)

// consumeScript is the whole check, delete-or-increment sequence. Redis runs
// it without interleaving other clients, which is what makes consume safe
// across processes.
var consumeScript = redis.NewScript(`
local k = KEYS[1]
if redis.call("EXISTS", k) == 0 then
  return nil
end

local now = tonumber(ARGV[1])
local expires_raw = redis.call("HGET", k, "expires_at") or "-1"
local max_raw = redis.call("HGET", k, "max_views") or "-1"
local expires_at = tonumber(expires_raw)
local max_views = tonumber(max_raw)
local views_used = tonumber(redis.call("HGET", k, "views_used") or "0")

if expires_at ~= -1 and now > expires_at then
  redis.call("DEL", k)
  return 1
end

if max_views ~= -1 and views_used >= max_views then
  redis.call("DEL", k)
  return 2
end

local new_views = redis.call("HINCRBY", k, "views_used", 1)
local content = redis.call("HGET", k, "content") or ""
local created_at = redis.call("HGET", k, "created_at") or "0"
return { content, created_at, expires_raw, max_raw, tostring(new_views) }
`)

type Redis struct {
	client  *redis.Client
	timeout time.Duration
	prefix  string
}

func NewRedis(ctx context.Context, url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	// A retried consume whose first reply was lost would spend a second view.
	opt.MaxRetries = -1
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(c)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	r := NewRedisFromClient(redis.NewClient(opt), c.RedisKeyPrefix, c.RedisTimeout)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		r.client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return r, nil
}

// NewRedisFromClient wraps an existing client. Keys are prefix+id.
func NewRedisFromClient(client *redis.Client, prefix string, timeout time.Duration) *Redis {
	if prefix == "" {
		prefix = "paste:"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{client: client, timeout: timeout, prefix: prefix}
}

func buildRedisTLSConfig(c *cfg.Cfg) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if c.RedisHostname == "" {
		return nil, fmt.Errorf("REDIS_HOSTNAME must be set when REDIS_TLS=true")
	}
	tlsConfig.ServerName = c.RedisHostname
	if c.RedisCACert != "" {
		caCert, err := os.ReadFile(c.RedisCACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read Redis CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append Redis CA cert to pool")
		}
		tlsConfig.RootCAs = certPool
	} else {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load system cert pool: %w", err)
		}
		tlsConfig.RootCAs = systemPool
	}
	return tlsConfig, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) key(id string) string { return r.prefix + id }

func (r *Redis) Create(ctx context.Context, p *domain.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	created, err := createScript.Run(ctx, r.client, []string{r.key(p.ID)},
		p.Content,
		strconv.FormatInt(p.CreatedAt, 10),
		strconv.FormatInt(p.ExpiresAt, 10),
		strconv.FormatInt(p.MaxViews, 10),
	).Int()
	if err != nil {
		return errors.Wrap(err, "create paste lua")
	}
	if created == 0 {
		return domain.ErrIDCollision
	}
	return nil
}

func (r *Redis) Consume(ctx context.Context, id string, now int64) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res, err := consumeScript.Run(ctx, r.client, []string{r.key(id)}, strconv.FormatInt(now, 10)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "consume paste lua")
	}
	switch v := res.(type) {
	case int64:
		switch v {
		case replyExpiredByTime:
			return nil, &domain.ExpiredError{Reason: domain.ExpiredByTime}
		case replyExpiredByViews:
			return nil, &domain.ExpiredError{Reason: domain.ExpiredByViews}
		}
		return nil, errors.Errorf("consume paste lua: unexpected reply code %d", v)
	case []interface{}:
		return parseConsumeReply(id, v)
	default:
		return nil, errors.Errorf("consume paste lua: unexpected reply type %T", res)
	}
}

func parseConsumeReply(id string, fields []interface{}) (*domain.Paste, error) {
	if len(fields) != 5 {
		return nil, errors.Errorf("consume paste lua: got %d fields, want 5", len(fields))
	}
	strs := make([]string, len(fields))
	for i, f := range fields {
		s, ok := f.(string)
		if !ok {
			return nil, errors.Errorf("consume paste lua: field %d is %T", i, f)
		}
		strs[i] = s
	}
	nums := make([]int64, 4)
	names := []string{fieldCreatedAt, fieldExpiresAt, fieldMaxViews, fieldViewsUsed}
	for i := range nums {
		n, err := strconv.ParseInt(strs[i+1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "consume paste lua: bad %s", names[i])
		}
		nums[i] = n
	}
	return &domain.Paste{
		ID:        id,
		Content:   strs[0],
		CreatedAt: nums[0],
		ExpiresAt: nums[1],
		MaxViews:  nums[2],
		ViewsUsed: nums[3],
	}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
