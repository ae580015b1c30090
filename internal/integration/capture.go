package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/autostream/leadflow/internal/models"
)

// LogCapturer records leads in the log only. It never fails.
type LogCapturer struct {
	logger zerolog.Logger
}

// NewLogCapturer creates a capturer that logs each lead
func NewLogCapturer(logger zerolog.Logger) *LogCapturer {
	return &LogCapturer{logger: logger.With().Str("component", "lead_capture").Logger()}
}

func (c *LogCapturer) Name() string { return string(ServiceTypeLog) }

func (c *LogCapturer) Capture(ctx context.Context, lead models.Lead) error {
	c.logger.Info().
		Str("thread_id", lead.ThreadID).
		Str("name", lead.Name).
		Str("email", lead.Email).
		Str("platform", lead.Platform).
		Msgf("Lead captured successfully: %s, %s, %s", lead.Name, lead.Email, lead.Platform)
	return nil
}

// RetryConfig bounds capture attempts
type RetryConfig struct {
	Attempts int           // total attempts, at least 1
	Backoff  time.Duration // wait before the second attempt, doubled after each failure
}

// RetryingCapturer retries a capturer with exponential backoff and audits every attempt
type RetryingCapturer struct {
	inner   LeadCapturer
	config  RetryConfig
	auditor AuditLogger
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetryingCapturer wraps inner. auditor may be nil.
func NewRetryingCapturer(inner LeadCapturer, config RetryConfig, auditor AuditLogger, logger zerolog.Logger) *RetryingCapturer {
	if config.Attempts < 1 {
		config.Attempts = 1
	}
	return &RetryingCapturer{
		inner:   inner,
		config:  config,
		auditor: auditor,
		logger:  logger.With().Str("component", "lead_capture").Logger(),
		sleep:   sleepContext,
	}
}

// Capture returns nil on the first successful attempt, otherwise a *LeadCaptureError
func (r *RetryingCapturer) Capture(ctx context.Context, lead models.Lead) error {
	requestID := uuid.NewString()
	backoff := r.config.Backoff

	var lastErr error
	attempt := 0
	for attempt < r.config.Attempts {
		attempt++
		start := time.Now()
		err := r.inner.Capture(ctx, lead)
		r.audit(ctx, lead, requestID, attempt, time.Since(start), err)

		if err == nil {
			if attempt > 1 {
				r.logger.Info().Str("thread_id", lead.ThreadID).Int("attempt", attempt).Msg("lead captured after retry")
			}
			return nil
		}
		lastErr = err

		r.logger.Warn().Err(err).
			Str("thread_id", lead.ThreadID).
			Int("attempt", attempt).
			Int("max_attempts", r.config.Attempts).
			Msg("lead capture attempt failed")

		if attempt == r.config.Attempts || ctx.Err() != nil {
			break
		}
		if err := r.sleep(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
	}

	return &LeadCaptureError{Lead: lead, Attempts: attempt, Err: lastErr}
}

func (r *RetryingCapturer) audit(ctx context.Context, lead models.Lead, requestID string, attempt int, d time.Duration, err error) {
	if r.auditor == nil {
		return
	}

	entry := &AuditEntry{
		Timestamp: time.Now(),
		Service:   ServiceTypeCapture,
		Operation: "capture_lead",
		UserID:    lead.ThreadID,
		RequestID: requestID,
		Method:    capturerName(r.inner),
		Duration:  d,
		Success:   err == nil,
		Metadata: map[string]interface{}{
			"attempt":  attempt,
			"email":    lead.Email,
			"platform": lead.Platform,
		},
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if aerr := r.auditor.Log(ctx, entry); aerr != nil {
		r.logger.Warn().Err(aerr).Str("thread_id", lead.ThreadID).Msg("failed to write audit entry")
	}
}

// CaptureChain captures with a primary capturer, then informs best-effort notifiers
type CaptureChain struct {
	primary   LeadCapturer
	notifiers []LeadNotifier
	logger    zerolog.Logger
}

// NewCaptureChain creates a chain around primary
func NewCaptureChain(primary LeadCapturer, logger zerolog.Logger, notifiers ...LeadNotifier) *CaptureChain {
	return &CaptureChain{
		primary:   primary,
		notifiers: notifiers,
		logger:    logger.With().Str("component", "lead_capture").Logger(),
	}
}

func (c *CaptureChain) Capture(ctx context.Context, lead models.Lead) error {
	if err := c.primary.Capture(ctx, lead); err != nil {
		return err
	}

	for _, n := range c.notifiers {
		if err := n.Notify(ctx, lead); err != nil {
			c.logger.Warn().Err(err).
				Str("notifier", n.Name()).
				Str("thread_id", lead.ThreadID).
				Msg("lead notification failed")
		}
	}
	return nil
}

func capturerName(c LeadCapturer) string {
	if named, ok := c.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", c)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
