package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/autostream/leadflow/internal/inference"
	"github.com/autostream/leadflow/internal/models"
)

// LLMClassifier labels messages by asking the model for a single category name
type LLMClassifier struct {
	gen     inference.Generator
	retries int
	cache   *IntentCache
	logger  zerolog.Logger
}

// ClassifierConfig configures an LLMClassifier
type ClassifierConfig struct {
	// Retries is how many extra model calls are made after an unusable reply
	Retries int
	// Cache is optional; nil disables caching
	Cache *IntentCache
}

// NewLLMClassifier creates a classifier backed by gen
func NewLLMClassifier(gen inference.Generator, config ClassifierConfig, logger zerolog.Logger) *LLMClassifier {
	if config.Retries < 0 {
		config.Retries = 0
	}
	return &LLMClassifier{
		gen:     gen,
		retries: config.Retries,
		cache:   config.Cache,
		logger:  logger,
	}
}

// Classify returns the intent of message. Only the message itself is considered.
func (c *LLMClassifier) Classify(ctx context.Context, message string) (models.Intent, error) {
	if c.cache != nil {
		if intent, ok := c.cache.Get(message); ok {
			return intent, nil
		}
	}

	prompt := buildIntentPrompt(message)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				break
			}
			c.logger.Debug().Int("attempt", attempt+1).Err(lastErr).Msg("retrying classification")
		}

		result, err := c.gen.GenerateSync(ctx, inference.TaskClassify, prompt)
		if err != nil {
			lastErr = &ClassificationError{Err: err}
			continue
		}

		intent, ok := normalizeIntent(result.Response)
		if !ok {
			lastErr = &ClassificationError{Raw: result.Response}
			continue
		}

		if c.cache != nil {
			c.cache.Set(message, intent)
		}
		return intent, nil
	}

	return models.IntentNone, lastErr
}

// buildIntentPrompt creates the prompt for intent classification
func buildIntentPrompt(message string) string {
	return fmt.Sprintf(`Classify the user's intent into one of these categories:
1. "greeting" - casual greetings, general conversation
2. "product_inquiry" - questions about pricing, features, policies
3. "high_intent" - ready to sign up, wants to try/buy, shows purchase intent

User message: %s

Respond with only the category name.`, message)
}

// normalizeIntent maps raw model output onto a known label.
// Whitespace, surrounding quotes or backticks and a trailing period are ignored.
func normalizeIntent(raw string) (models.Intent, bool) {
	s := raw
	for {
		prev := s
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(s, ".")
		s = strings.Trim(s, "\"'`")
		if s == prev {
			break
		}
	}

	intent := models.Intent(strings.ToLower(s))
	if !intent.Valid() {
		return models.IntentNone, false
	}
	return intent, true
}
