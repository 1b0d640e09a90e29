package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iudanet/text2mesh/internal/server/metrics"
)

// Limiter decides whether one more request for key fits the budget
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LimiterFactory builds a limiter for a named budget
type LimiterFactory func(name string, rate int, window time.Duration) Limiter

// RateLimiter представляет rate limiter на основе токен-бакета (token bucket)
// Состояние хранится в памяти процесса
type RateLimiter struct {
	buckets  map[string]*bucket
	logger   *slog.Logger
	cleanupC chan struct{}
	stopOnce sync.Once
	now      func() time.Time
	rate     int
	window   time.Duration
	mu       sync.RWMutex
}

// bucket представляет bucket для конкретного IP/ключа
type bucket struct {
	lastRefill time.Time
	tokens     int
	mu         sync.Mutex
}

// NewRateLimiter создает новый rate limiter
// rate - максимальное количество запросов в единицу времени
// window - временное окно (например, 15 минут)
func NewRateLimiter(rate int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		window:   window,
		logger:   logger,
		cleanupC: make(chan struct{}),
		now:      time.Now,
	}

	// Запускаем периодическую очистку старых buckets
	go rl.cleanup()

	return rl
}

// cleanup периодически удаляет неактивные buckets для экономии памяти
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupOldBuckets()
		case <-rl.cleanupC:
			return
		}
	}
}

// cleanupOldBuckets удаляет buckets, которые не использовались дольше 2*window
func (rl *RateLimiter) cleanupOldBuckets() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > rl.window*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// Stop останавливает cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.cleanupC) })
}

// Allow проверяет, разрешен ли запрос для данного ключа (обычно IP адрес)
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// повторная проверка: bucket мог создать параллельный запрос
		if b, exists = rl.buckets[key]; !exists {
			b = &bucket{tokens: rl.rate, lastRefill: rl.now()}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	if now.Sub(b.lastRefill) >= rl.window {
		b.tokens = rl.rate
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}

	return false, nil
}

// MemoryLimiters returns a factory of in-process limiters and a stop func
// that ends their cleanup goroutines
func MemoryLimiters(logger *slog.Logger) (LimiterFactory, func()) {
	var (
		mu      sync.Mutex
		created []*RateLimiter
	)

	factory := func(_ string, rate int, window time.Duration) Limiter {
		rl := NewRateLimiter(rate, window, logger)
		mu.Lock()
		created = append(created, rl)
		mu.Unlock()
		return rl
	}

	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, rl := range created {
			rl.Stop()
		}
	}

	return factory, stop
}

// RedisLimiter is a fixed-window counter shared by every server instance
type RedisLimiter struct {
	client *redis.Client
	prefix string
	rate   int
	window time.Duration
}

// NewRedisLimiter creates a limiter storing counters under prefix
func NewRedisLimiter(client *redis.Client, prefix string, rate int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, rate: rate, window: window}
}

// RedisLimiters returns a factory of limiters sharing client
func RedisLimiters(client *redis.Client) LimiterFactory {
	return func(name string, rate int, window time.Duration) Limiter {
		return NewRedisLimiter(client, "ratelimit:"+name+":", rate, window)
	}
}

// Allow increments the counter of key and reports whether it is within rate
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("redis expire: %w", err)
		}
	}

	return count <= int64(l.rate), nil
}

// PathRateLimit задает лимит для конкретного пути
type PathRateLimit struct {
	Name   string
	Path   string
	Rate   int
	Window time.Duration
}

// DefaultAuthLimits returns the per-endpoint budgets of the auth API
func DefaultAuthLimits() (limits []PathRateLimit, fallback PathRateLimit) {
	const prefix = "/api/auth"
	limits = []PathRateLimit{
		{Name: "register", Path: prefix + "/register", Rate: 5, Window: time.Hour},
		{Name: "verify", Path: prefix + "/register/verify", Rate: 5, Window: 15 * time.Minute},
		{Name: "login", Path: prefix + "/login", Rate: 5, Window: 15 * time.Minute},
		{Name: "refresh", Path: prefix + "/refresh", Rate: 5, Window: 15 * time.Minute},
		{Name: "password_reset", Path: prefix + "/request-password-reset", Rate: 3, Window: time.Hour},
		{Name: "password_reset", Path: prefix + "/reset-password", Rate: 3, Window: time.Hour},
	}
	fallback = PathRateLimit{Name: "default", Rate: 100, Window: 15 * time.Minute}
	return limits, fallback
}

// RateLimitByPathMiddleware создает middleware с кастомными лимитами для путей.
// Limits sharing a Name share one budget. Limiter errors fail open.
func RateLimitByPathMiddleware(limits []PathRateLimit, fallback PathRateLimit, newLimiter LimiterFactory, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	type budget struct {
		limiter Limiter
		window  time.Duration
	}

	byName := make(map[string]budget)
	byPath := make(map[string]string)
	for _, l := range limits {
		if _, ok := byName[l.Name]; !ok {
			byName[l.Name] = budget{newLimiter(l.Name, l.Rate, l.Window), l.Window}
		}
		byPath[l.Path] = l.Name
	}
	defaultBudget := budget{newLimiter(fallback.Name, fallback.Rate, fallback.Window), fallback.Window}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, b := fallback.Name, defaultBudget
			if n, ok := byPath[r.URL.Path]; ok {
				name, b = n, byName[n]
			}

			key := clientIP(r)
			allowed, err := b.limiter.Allow(r.Context(), key)
			if err != nil {
				logger.ErrorContext(r.Context(), "rate limiter unavailable",
					slog.String("limit", name),
					slog.Any("error", err),
				)
				allowed = true
			}

			if !allowed {
				m.RateLimited(name)
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("ip", key),
					slog.String("limit", name),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", retryAfter(b.window))
				writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP возвращает адрес пира. Заголовки прокси учитываются раньше,
// в RealIPMiddleware, и только для доверенных прокси.
func clientIP(r *http.Request) string {
	return remoteHost(r.RemoteAddr)
}

// ClientIP is clientIP for handlers that persist request metadata
func ClientIP(r *http.Request) string {
	return clientIP(r)
}

// retryAfter formats a window as whole seconds
func retryAfter(window time.Duration) string {
	return strconv.Itoa(int(window.Seconds()))
}
