package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketRateLimiter implements per-service rate limiting using a token bucket
type TokenBucketRateLimiter struct {
	limiters map[string]*serviceLimiter
	mu       sync.RWMutex
}

type serviceLimiter struct {
	limiter   *rate.Limiter
	limit     int
	remaining int
	resetTime time.Time
	mu        sync.Mutex
}

// NewTokenBucketRateLimiter creates a new rate limiter
func NewTokenBucketRateLimiter() *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		limiters: make(map[string]*serviceLimiter),
	}
}

// RegisterService registers a service with specific rate limits
func (r *TokenBucketRateLimiter) RegisterService(service string, requestsPerHour int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rps := float64(requestsPerHour) / 3600.0
	burst := max(10, requestsPerHour/360) // ~10s worth

	r.limiters[service] = &serviceLimiter{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		limit:     requestsPerHour,
		remaining: requestsPerHour,
		resetTime: time.Now().Add(time.Hour),
	}
}

// Allow checks if a request is allowed
func (r *TokenBucketRateLimiter) Allow(ctx context.Context, service string) (bool, error) {
	limiter := r.getLimiter(service)
	if limiter == nil {
		return true, nil // No limit configured
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	limiter.resetIfExpired()
	allowed := limiter.limiter.Allow()
	if allowed && limiter.remaining > 0 {
		limiter.remaining--
	}

	return allowed, nil
}

// Wait blocks until a request is allowed
func (r *TokenBucketRateLimiter) Wait(ctx context.Context, service string) error {
	limiter := r.getLimiter(service)
	if limiter == nil {
		return nil
	}

	if err := limiter.limiter.Wait(ctx); err != nil {
		return err
	}

	limiter.mu.Lock()
	limiter.resetIfExpired()
	if limiter.remaining > 0 {
		limiter.remaining--
	}
	limiter.mu.Unlock()
	return nil
}

// GetStatus returns current rate limit status
func (r *TokenBucketRateLimiter) GetStatus(service string) *RateLimitStatus {
	limiter := r.getLimiter(service)
	if limiter == nil {
		return &RateLimitStatus{
			Limit:     -1,
			Remaining: -1,
			Reset:     time.Now().Add(time.Hour),
		}
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	return &RateLimitStatus{
		Limit:     limiter.limit,
		Remaining: limiter.remaining,
		Reset:     limiter.resetTime,
	}
}

func (r *TokenBucketRateLimiter) getLimiter(service string) *serviceLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[service]
}

// resetIfExpired must be called with l.mu held
func (l *serviceLimiter) resetIfExpired() {
	if time.Now().After(l.resetTime) {
		l.remaining = l.limit
		l.resetTime = time.Now().Add(time.Hour)
	}
}

// MemoryCredentialVault keeps credentials in process memory
type MemoryCredentialVault struct {
	credentials map[string]*Credentials
	mu          sync.RWMutex
}

// NewMemoryCredentialVault creates an in-memory vault
func NewMemoryCredentialVault() *MemoryCredentialVault {
	return &MemoryCredentialVault{
		credentials: make(map[string]*Credentials),
	}
}

// Store saves credentials
func (v *MemoryCredentialVault) Store(ctx context.Context, serviceName string, creds *Credentials) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.credentials[serviceName] = creds
	return nil
}

// Retrieve gets stored credentials
func (v *MemoryCredentialVault) Retrieve(ctx context.Context, serviceName string) (*Credentials, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	creds, exists := v.credentials[serviceName]
	if !exists {
		return nil, fmt.Errorf("credentials not found for service: %s", serviceName)
	}
	if !creds.Expiry.IsZero() && time.Now().After(creds.Expiry) {
		return nil, fmt.Errorf("credentials expired for service: %s", serviceName)
	}

	return creds, nil
}
