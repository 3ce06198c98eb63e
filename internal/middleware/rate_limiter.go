package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/apperror"
	"github.com/taskapp/taskapp/internal/metrics"
	"github.com/taskapp/taskapp/internal/response"
)

const msgTooManyRequests = "Too many requests, please try again later."

// WindowStore counts hits per key in fixed windows.
type WindowStore interface {
	// Hit records one request for key and returns the count in the current
	// window and the time until the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisWindowStore keeps counters in Redis: INCR, then EXPIRE on the first
// hit of a window.
type RedisWindowStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWindowStore(client redis.UniversalClient, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

func (s *RedisWindowStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	key = s.prefix + ":" + key

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incr rate limit counter: %w", err)
	}

	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire rate limit counter: %w", err)
		}
		return count, window, nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ttl rate limit counter: %w", err)
	}
	if ttl < 0 {
		// The expiry was lost; start the window over.
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire rate limit counter: %w", err)
		}
		ttl = window
	}

	return count, ttl, nil
}

type memoryWindow struct {
	count int64
	reset time.Time
}

// MemoryWindowStore keeps counters in process memory.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*memoryWindow), now: time.Now}
}

func (s *MemoryWindowStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.reset) {
		if len(s.windows) > 10000 {
			s.prune(now)
		}
		w = &memoryWindow{reset: now.Add(window)}
		s.windows[key] = w
	}
	w.count++

	return w.count, w.reset.Sub(now), nil
}

// prune drops finished windows. Callers hold s.mu.
func (s *MemoryWindowStore) prune(now time.Time) {
	for key, w := range s.windows {
		if !now.Before(w.reset) {
			delete(s.windows, key)
		}
	}
}

// RateLimiter admits at most limit requests per client IP per window across
// all routes it wraps. The route name only labels rejections.
type RateLimiter struct {
	store      WindowStore
	limit      int
	window     time.Duration
	trustProxy bool
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

func NewRateLimiter(store WindowStore, limit int, window time.Duration, trustProxy bool, m *metrics.Metrics, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		store:      store,
		limit:      limit,
		window:     window,
		trustProxy: trustProxy,
		metrics:    m,
		logger:     logger,
	}
}

// Limit wraps next with the limiter's shared per-IP counter.
func (l *RateLimiter) Limit(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, l.trustProxy)

		count, ttl, err := l.store.Hit(r.Context(), ip, l.window)
		if err != nil {
			l.logger.WithError(err).WithField("route", route).Warn("Rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(l.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		resetSeconds := int64(math.Ceil(ttl.Seconds()))

		w.Header().Set("RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("RateLimit-Reset", strconv.FormatInt(resetSeconds, 10))

		if count > int64(l.limit) {
			l.metrics.RateLimited.WithLabelValues(route).Inc()
			w.Header().Set("Retry-After", strconv.FormatInt(resetSeconds, 10))
			response.FromError(w, l.logger, apperror.New(apperror.KindRateLimited, msgTooManyRequests))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the caller's address. Forwarding headers are only honoured
// behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
