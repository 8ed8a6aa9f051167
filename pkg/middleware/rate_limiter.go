package middleware

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const limiterPrefix = "safecircle:limiter"

// RateLimiterConfig configures the API limiter. Rate uses the limiter format,
// e.g. "120-M". Identifier is "user" (ip for anonymous requests) or "ip".
// SkipPaths are route prefixes.
type RateLimiterConfig struct {
	Rate          string            `json:"rate"`
	PerRouteRates map[string]string `json:"per_route_rates"`
	Identifier    string            `json:"identifier"`
	SkipPaths     []string          `json:"skip_paths"`
	AddHeaders    bool              `json:"add_headers"`
}

// NewLimiterStore returns a redis store when client is set, memory otherwise.
func NewLimiterStore(client *goredis.Client) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          limiterPrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		}), nil
	}
	return sredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   limiterPrefix,
		MaxRetry: 3,
	})
}

// MetricsObserver receives limiter decisions per route.
type MetricsObserver interface {
	OnAllow(route string)
	OnDeny(route string)
}

type PrometheusObserver struct {
	allow *prometheus.CounterVec
	deny  *prometheus.CounterVec
}

func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	factory := promauto.With(reg)
	return &PrometheusObserver{
		allow: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_allow_total",
			Help: "Allowed requests by rate limiter",
		}, []string{"route"}),
		deny: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_deny_total",
			Help: "Denied requests by rate limiter",
		}, []string{"route"}),
	}
}

func (p *PrometheusObserver) OnAllow(route string) { p.allow.WithLabelValues(route).Inc() }
func (p *PrometheusObserver) OnDeny(route string)  { p.deny.WithLabelValues(route).Inc() }

// RateLimiter caches one limiter per distinct rate.
type RateLimiter struct {
	cfg            RateLimiterConfig
	store          limiter.Store
	observer       MetricsObserver
	limitersByRate map[string]*limiter.Limiter
	mu             sync.Mutex
}

func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store) *RateLimiter {
	if store == nil {
		store, _ = NewLimiterStore(nil)
	}
	if cfg.Rate == "" {
		cfg.Rate = "120-M"
	}
	return &RateLimiter{
		cfg:            cfg,
		store:          store,
		limitersByRate: make(map[string]*limiter.Limiter),
	}
}

func (l *RateLimiter) WithObserver(observer MetricsObserver) *RateLimiter {
	l.observer = observer
	return l
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if pathSkipped(l.cfg.SkipPaths, route) {
			c.Next()
			return
		}

		lim := l.getLimiter(l.pickRate(route))
		lctx, err := lim.Get(c.Request.Context(), l.buildKey(c))
		if err != nil {
			// store outage: fail open
			c.Next()
			return
		}
		if l.cfg.AddHeaders {
			setStandardHeaders(c, lctx)
		}
		if lctx.Reached {
			setRetryAfter(c, time.Until(time.Unix(lctx.Reset, 0)))
			if l.observer != nil {
				l.observer.OnDeny(route)
			}
			response.Error(c, errors.RateLimited("too many requests"))
			return
		}
		if l.observer != nil {
			l.observer.OnAllow(route)
		}
		c.Next()
	}
}

func (l *RateLimiter) getLimiter(rate string) *limiter.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limitersByRate[rate]; ok {
		return lim
	}
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		r = limiter.Rate{Period: time.Minute, Limit: 120}
	}
	lim := limiter.New(l.store, r)
	l.limitersByRate[rate] = lim
	return lim
}

func (l *RateLimiter) pickRate(route string) string {
	if r, ok := l.cfg.PerRouteRates[route]; ok && r != "" {
		return r
	}
	return l.cfg.Rate
}

func (l *RateLimiter) buildKey(c *gin.Context) string {
	ip := strings.TrimPrefix(c.ClientIP(), "::ffff:")
	if l.cfg.Identifier == "user" {
		if user := currentUserID(c); user != "" {
			return "api:user:" + user
		}
	}
	return "api:ip:" + ip
}

// KeyLimiter applies one rate to arbitrary keys outside of HTTP middleware.
type KeyLimiter struct {
	lim *limiter.Limiter
}

func NewKeyLimiter(rate string, store limiter.Store) (*KeyLimiter, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid rate %q", rate)
	}
	if store == nil {
		store, _ = NewLimiterStore(nil)
	}
	return &KeyLimiter{lim: limiter.New(store, r)}, nil
}

// Allow consumes one token for key and reports whether the call is within rate.
func (k *KeyLimiter) Allow(ctx context.Context, key string) (bool, error) {
	lctx, err := k.lim.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return !lctx.Reached, nil
}

func pathSkipped(prefixes []string, path string) bool {
	for _, pref := range prefixes {
		if pref != "" && strings.HasPrefix(path, pref) {
			return true
		}
	}
	return false
}

func setStandardHeaders(c *gin.Context, ctx limiter.Context) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
	resetSec := int(time.Until(time.Unix(ctx.Reset, 0)).Seconds())
	if resetSec < 0 {
		resetSec = 0
	}
	c.Header("X-RateLimit-Reset", strconv.Itoa(resetSec))
}

func setRetryAfter(c *gin.Context, d time.Duration) {
	sec := int(d.Seconds())
	if sec < 0 {
		sec = 0
	}
	c.Header("Retry-After", strconv.Itoa(sec))
}
