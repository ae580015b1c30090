package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/autostream/leadflow/internal/inference"
	"github.com/autostream/leadflow/internal/metrics"
	"github.com/autostream/leadflow/internal/models"
)

var errNoJSONObject = errors.New("no JSON object found in response")

// LLMExtractor pulls name, email and platform out of a message with one model call
type LLMExtractor struct {
	gen     inference.Generator
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewLLMExtractor creates an extractor backed by gen. m may be nil.
func NewLLMExtractor(gen inference.Generator, logger zerolog.Logger, m *metrics.Metrics) *LLMExtractor {
	return &LLMExtractor{gen: gen, logger: logger, metrics: m}
}

// Extract merges the fields found in message into current.
// A found value overwrites; an absent one keeps the current value.
func (e *LLMExtractor) Extract(ctx context.Context, message string, current models.LeadFields) models.LeadFields {
	found, err := e.ExtractFields(ctx, message)
	if err != nil {
		e.logger.Warn().Err(err).Msg("extraction failed, keeping current fields")
		e.metrics.RecordExtractionFailure()
		return current
	}
	return mergeFields(current, found)
}

// ExtractFields returns only the fields present in message
func (e *LLMExtractor) ExtractFields(ctx context.Context, message string) (models.LeadFields, error) {
	result, err := e.gen.GenerateSync(ctx, inference.TaskExtract, buildExtractionPrompt(message))
	if err != nil {
		return models.LeadFields{}, &ExtractionError{Err: err}
	}

	fields, err := parseExtraction(result.Response)
	if err != nil {
		return models.LeadFields{}, &ExtractionError{Raw: result.Response, Err: err}
	}
	return fields, nil
}

func buildExtractionPrompt(message string) string {
	return fmt.Sprintf(`Extract the following information from the user's message if present:
- Name
- Email
- Platform (YouTube, Instagram, TikTok, etc.)

Message: %s

Respond in JSON format:
{"name": "value or null", "email": "value or null", "platform": "value or null"}`, message)
}

// parseExtraction reads the first JSON object in the reply.
// Code fences and surrounding prose are ignored.
func parseExtraction(response string) (models.LeadFields, error) {
	obj, err := firstJSONObject(stripCodeFence(response))
	if err != nil {
		return models.LeadFields{}, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return models.LeadFields{}, fmt.Errorf("JSON parse error: %w", err)
	}

	return models.LeadFields{
		Name:     fieldValue(raw, models.FieldName),
		Email:    fieldValue(raw, models.FieldEmail),
		Platform: fieldValue(raw, models.FieldPlatform),
	}, nil
}

// fieldValue returns the trimmed string under key, or "" when it is absent or a null marker
func fieldValue(raw map[string]interface{}, key string) string {
	s, ok := raw[key].(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "n/a":
		return ""
	}
	return s
}

// mergeFields overwrites current with every non-empty value in found
func mergeFields(current, found models.LeadFields) models.LeadFields {
	if found.Name != "" {
		current.Name = found.Name
	}
	if found.Email != "" {
		current.Email = found.Email
	}
	if found.Platform != "" {
		current.Platform = found.Platform
	}
	return current
}

// stripCodeFence removes a surrounding markdown code block
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstJSONObject returns the first balanced {...} block, skipping braces inside strings
func firstJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", errNoJSONObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errNoJSONObject
}
