package agent

import (
	"context"

	"github.com/autostream/leadflow/internal/models"
)

// Classifier labels the newest user message with exactly one intent
type Classifier interface {
	Classify(ctx context.Context, message string) (models.Intent, error)
}

// Extractor merges contact details found in a message into the current fields.
// It never clears a field and returns current unchanged on any failure.
type Extractor interface {
	Extract(ctx context.Context, message string, current models.LeadFields) models.LeadFields
}

// Retriever selects knowledge base context for a message
type Retriever interface {
	RetrieveTopics(message string) (string, []string)
}

// Responder writes the agent reply for greeting, product inquiry and incomplete-lead turns
type Responder interface {
	Respond(ctx context.Context, req ResponseRequest) (string, error)
}

// ResponseRequest carries everything a responder may use for one reply
type ResponseRequest struct {
	Intent  models.Intent
	Message string
	// Context is the retrieved knowledge; only set for product inquiries
	Context string
	// Missing lists the unknown lead fields in request order; only set for high intent
	Missing []string
}
