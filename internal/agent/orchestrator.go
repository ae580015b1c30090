package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/autostream/leadflow/internal/integration"
	"github.com/autostream/leadflow/internal/memory"
	"github.com/autostream/leadflow/internal/metrics"
	"github.com/autostream/leadflow/internal/models"
)

// Replies the orchestrator writes itself
const (
	FallbackReply       = "Sorry, something went wrong on my side. Could you say that again?"
	CaptureFailureReply = "I have your details, but I couldn't complete your sign-up just now. Please try again in a moment."
)

// Turn outcomes recorded in logs and metrics
const (
	OutcomeReplied       = "replied"
	OutcomeLeadCaptured  = "lead_captured"
	OutcomeCaptureFailed = "capture_failed"
	OutcomeAborted       = "aborted"
)

// Reply is the result of one turn
type Reply struct {
	ThreadID     string        `json:"thread_id"`
	Text         string        `json:"reply"`
	Intent       models.Intent `json:"intent,omitempty"`
	Missing      []string      `json:"missing,omitempty"`
	LeadCaptured bool          `json:"lead_captured"`
}

// Dependencies are the collaborators an Orchestrator needs.
// Metrics is optional; everything else is required.
type Dependencies struct {
	Classifier  Classifier
	Extractor   Extractor
	Retriever   Retriever
	Responder   Responder
	Capturer    integration.LeadCapturer
	Store       memory.Store
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	ProductName string
}

// Orchestrator runs the per-turn state machine:
// classify, then greet, answer from the knowledge base, or qualify and capture the lead.
type Orchestrator struct {
	classifier Classifier
	extractor  Extractor
	retriever  Retriever
	responder  Responder
	capturer   integration.LeadCapturer
	store      memory.Store
	templates  *TemplateResponder
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	locks      *threadLocks
}

// NewOrchestrator creates an orchestrator from its dependencies
func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Classifier == nil:
		return nil, fmt.Errorf("orchestrator requires a classifier")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("orchestrator requires an extractor")
	case deps.Retriever == nil:
		return nil, fmt.Errorf("orchestrator requires a retriever")
	case deps.Responder == nil:
		return nil, fmt.Errorf("orchestrator requires a responder")
	case deps.Capturer == nil:
		return nil, fmt.Errorf("orchestrator requires a lead capturer")
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator requires a state store")
	}

	return &Orchestrator{
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		retriever:  deps.Retriever,
		responder:  deps.Responder,
		capturer:   deps.Capturer,
		store:      deps.Store,
		templates:  NewTemplateResponder(deps.ProductName),
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		locks:      newThreadLocks(),
	}, nil
}

// Chat processes one user message and returns exactly one reply.
// Turns on the same thread run one at a time; different threads run concurrently.
// When a turn is aborted the returned Reply still carries FallbackReply and the
// error is a *TurnError; the stored state is left as it was.
func (o *Orchestrator) Chat(ctx context.Context, threadID, message string) (Reply, error) {
	if threadID == "" || strings.TrimSpace(message) == "" {
		return Reply{}, ErrInvalidInput
	}

	unlock := o.locks.lock(threadID)
	defer unlock()

	done := o.metrics.TurnStarted()
	defer done()
	start := time.Now()

	state, err := o.loadState(ctx, threadID)
	if err != nil {
		return o.abort(threadID, models.IntentNone, StageLoad, err, start)
	}

	state.AppendMessage(models.RoleUser, message)
	state.Turns++
	state.KnowledgeContext = ""

	intent, err := o.classifier.Classify(ctx, message)
	if err != nil {
		return o.abort(threadID, models.IntentNone, StageClassify, err, start)
	}
	state.Intent = intent

	reply := Reply{ThreadID: threadID, Intent: intent}
	outcome := OutcomeReplied

	switch intent {
	case models.IntentGreeting:
		reply.Text = o.respond(ctx, ResponseRequest{Intent: intent, Message: message})

	case models.IntentProductInquiry:
		knowledge, topics := o.retriever.RetrieveTopics(message)
		state.KnowledgeContext = knowledge
		o.metrics.RecordRetrieval(topics)
		if knowledge == "" {
			o.logger.Debug().Str("thread_id", threadID).Msg("no knowledge matched message")
		}
		reply.Text = o.respond(ctx, ResponseRequest{Intent: intent, Message: message, Context: knowledge})

	case models.IntentHighIntent:
		state.Lead = o.extractor.Extract(ctx, state.LastUserMessage(), state.Lead)
		if state.Lead.Complete() {
			reply.Text, outcome = o.capture(ctx, state)
		} else {
			reply.Missing = state.Lead.Missing()
			reply.Text = o.respond(ctx, ResponseRequest{Intent: intent, Message: message, Missing: reply.Missing})
		}
	}

	state.AppendMessage(models.RoleAgent, reply.Text)
	state.UpdatedAt = time.Now()

	if err := o.store.Put(ctx, state); err != nil {
		return o.abort(threadID, intent, StageSave, err, start)
	}

	reply.LeadCaptured = state.LeadCaptured

	duration := time.Since(start)
	o.metrics.RecordTurn(string(intent), outcome, duration)
	o.logger.Info().
		Str("thread_id", threadID).
		Str("intent", string(intent)).
		Str("outcome", outcome).
		Int("turn", state.Turns).
		Strs("missing", reply.Missing).
		Dur("duration", duration).
		Msg("turn completed")

	return reply, nil
}

// State returns the stored state of a thread
func (o *Orchestrator) State(ctx context.Context, threadID string) (*models.ConversationState, error) {
	if threadID == "" {
		return nil, ErrInvalidInput
	}
	return o.store.Get(ctx, threadID)
}

// loadState returns a private copy of the thread state, or a new state for an unknown thread
func (o *Orchestrator) loadState(ctx context.Context, threadID string) (*models.ConversationState, error) {
	state, err := o.store.Get(ctx, threadID)
	if errors.Is(err, memory.ErrThreadNotFound) {
		return models.NewConversationState(threadID), nil
	}
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// capture hands a complete lead to the capturer exactly once.
// A failed capture keeps the fields so the next complete turn can retry.
func (o *Orchestrator) capture(ctx context.Context, state *models.ConversationState) (string, string) {
	lead := models.NewLead(state.ThreadID, state.Lead)

	if err := o.capturer.Capture(ctx, lead); err != nil {
		o.metrics.RecordLeadCapture("failure")
		o.logger.Warn().
			Err(err).
			Str("thread_id", state.ThreadID).
			Str("email", lead.Email).
			Msg("lead capture failed")
		return CaptureFailureReply, OutcomeCaptureFailed
	}

	o.metrics.RecordLeadCapture("success")
	state.LeadCaptured = true
	return o.templates.Confirmation(lead.Name), OutcomeLeadCaptured
}

// respond asks the responder for a reply and never returns an empty one
func (o *Orchestrator) respond(ctx context.Context, req ResponseRequest) string {
	text, err := o.responder.Respond(ctx, req)
	if err != nil || strings.TrimSpace(text) == "" {
		o.logger.Warn().Err(err).Str("intent", string(req.Intent)).Msg("response generation failed")
		return FallbackReply
	}
	return text
}

func (o *Orchestrator) abort(threadID string, intent models.Intent, stage string, err error, start time.Time) (Reply, error) {
	duration := time.Since(start)
	o.metrics.RecordTurn(string(intent), OutcomeAborted, duration)
	o.logger.Error().
		Err(err).
		Str("thread_id", threadID).
		Str("stage", stage).
		Dur("duration", duration).
		Msg("turn aborted")

	return Reply{ThreadID: threadID, Text: FallbackReply, Intent: intent}, &TurnError{Stage: stage, Err: err}
}
