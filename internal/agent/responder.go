package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/autostream/leadflow/internal/inference"
	"github.com/autostream/leadflow/internal/models"
)

// DefaultProductName is used when no product name is configured
const DefaultProductName = "AutoStream"

var errEmptyReply = errors.New("model returned an empty reply")

// fieldLabels is how each missing field is asked for
var fieldLabels = map[string]string{
	models.FieldName:     "name",
	models.FieldEmail:    "email",
	models.FieldPlatform: "creator platform (YouTube, Instagram, etc.)",
}

func missingLabels(missing []string) string {
	labels := make([]string, 0, len(missing))
	for _, f := range missing {
		if label, ok := fieldLabels[f]; ok {
			labels = append(labels, label)
		} else {
			labels = append(labels, f)
		}
	}
	return strings.Join(labels, ", ")
}

// LLMResponder writes replies with one model call per turn
type LLMResponder struct {
	gen     inference.Generator
	product string
}

// NewLLMResponder creates a model-backed responder
func NewLLMResponder(gen inference.Generator, productName string) *LLMResponder {
	if productName == "" {
		productName = DefaultProductName
	}
	return &LLMResponder{gen: gen, product: productName}
}

// Respond renders the prompt for req.Intent and returns the model's reply
func (r *LLMResponder) Respond(ctx context.Context, req ResponseRequest) (string, error) {
	prompt, err := r.buildPrompt(req)
	if err != nil {
		return "", err
	}

	result, err := r.gen.GenerateSync(ctx, inference.TaskRespond, prompt)
	if err != nil {
		return "", fmt.Errorf("response generation failed: %w", err)
	}

	reply := strings.TrimSpace(result.Response)
	if reply == "" {
		return "", errEmptyReply
	}
	return reply, nil
}

func (r *LLMResponder) buildPrompt(req ResponseRequest) (string, error) {
	switch req.Intent {
	case models.IntentGreeting:
		return fmt.Sprintf(`You are a helpful AI assistant for %[1]s, an automated video editing SaaS for content creators.
Respond to this greeting in a friendly, professional way and offer to help with questions about our product.

User: %[2]s`, r.product, req.Message), nil

	case models.IntentProductInquiry:
		return fmt.Sprintf(`You are a helpful AI assistant for %s. Use the provided context to answer the user's question accurately.
Be concise and helpful. If asked about pricing, mention both plans clearly.
If the context is empty, say you do not have that information and offer to help with pricing, features or policies.

Context: %s
User Question: %s`, r.product, req.Context, req.Message), nil

	case models.IntentHighIntent:
		return fmt.Sprintf(`You are a helpful AI assistant for %s. The user wants to sign up.
Thank them and ask, in one or two sentences, for exactly these missing details: %s.
Do not ask for anything else.

User: %s`, r.product, missingLabels(req.Missing), req.Message), nil
	}
	return "", fmt.Errorf("no reply prompt for intent %q", req.Intent)
}

// TemplateResponder replies with fixed texts and needs no model
type TemplateResponder struct {
	product string
}

// NewTemplateResponder creates a template responder
func NewTemplateResponder(productName string) *TemplateResponder {
	if productName == "" {
		productName = DefaultProductName
	}
	return &TemplateResponder{product: productName}
}

func (r *TemplateResponder) Respond(ctx context.Context, req ResponseRequest) (string, error) {
	switch req.Intent {
	case models.IntentGreeting:
		return fmt.Sprintf("Hello! I'm the %s AI assistant. I can help you learn about our automated video editing platform. What would you like to know about our pricing or features?", r.product), nil

	case models.IntentProductInquiry:
		if strings.TrimSpace(req.Context) == "" {
			return fmt.Sprintf("I don't have details on that yet. I can tell you about %s's pricing plans, features or policies.", r.product), nil
		}
		return fmt.Sprintf("Here's what I can tell you about %s:\n\n%s\n\nWould you like to try one of our plans?", r.product, req.Context), nil

	case models.IntentHighIntent:
		if len(req.Missing) == 0 {
			return "Perfect! I have all your information. Let me get you signed up.", nil
		}
		return fmt.Sprintf("Great! I'd love to help you get started with %s. To proceed, I'll need your %s.", r.product, missingLabels(req.Missing)), nil
	}
	return "", fmt.Errorf("no reply template for intent %q", req.Intent)
}

// Confirmation returns the message sent after a lead is captured
func (r *TemplateResponder) Confirmation(name string) string {
	return fmt.Sprintf("Excellent! I've successfully captured your information and you're all set to get started with %s Pro. Welcome aboard, %s!", r.product, name)
}

// FallbackResponder answers from fallback whenever primary fails
type FallbackResponder struct {
	primary  Responder
	fallback Responder
	logger   zerolog.Logger
}

// NewFallbackResponder composes two responders
func NewFallbackResponder(primary, fallback Responder, logger zerolog.Logger) *FallbackResponder {
	return &FallbackResponder{primary: primary, fallback: fallback, logger: logger}
}

func (r *FallbackResponder) Respond(ctx context.Context, req ResponseRequest) (string, error) {
	reply, err := r.primary.Respond(ctx, req)
	if err == nil {
		return reply, nil
	}

	r.logger.Warn().Err(err).Str("intent", string(req.Intent)).Msg("primary responder failed, using fallback")
	return r.fallback.Respond(ctx, req)
}
