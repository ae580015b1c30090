package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autostream/leadflow/internal/integration"
	"github.com/autostream/leadflow/internal/knowledge"
	"github.com/autostream/leadflow/internal/memory"
	"github.com/autostream/leadflow/internal/metrics"
	"github.com/autostream/leadflow/internal/models"
)

const testKB = `{
  "pricing_plans": {"basic": {"price": "$29/month"}, "pro": {"price": "$79/month", "features": ["4K", "AI captions"]}},
  "company_policies": {"refunds": "No refunds after 7 days"},
  "company_info": {"name": "AutoStream"}
}`

// stubClassifier returns a fixed intent per message
type stubClassifier struct {
	intents map[string]models.Intent
	err     error
}

func (s *stubClassifier) Classify(ctx context.Context, message string) (models.Intent, error) {
	if s.err != nil {
		return models.IntentNone, s.err
	}
	intent, ok := s.intents[message]
	if !ok {
		return models.IntentNone, &ClassificationError{Raw: "unknown"}
	}
	return intent, nil
}

// stubExtractor returns fixed fields per message and merges like the real extractor
type stubExtractor struct {
	fields map[string]models.LeadFields
	calls  int
}

func (s *stubExtractor) Extract(ctx context.Context, message string, current models.LeadFields) models.LeadFields {
	s.calls++
	return mergeFields(current, s.fields[message])
}

// recordingResponder answers from templates and keeps every request
type recordingResponder struct {
	mu       sync.Mutex
	requests []ResponseRequest
	inner    *TemplateResponder
}

func (r *recordingResponder) Respond(ctx context.Context, req ResponseRequest) (string, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.inner.Respond(ctx, req)
}

// recordingCapturer keeps every captured lead
type recordingCapturer struct {
	mu    sync.Mutex
	leads []models.Lead
	err   error
}

func (c *recordingCapturer) Capture(ctx context.Context, lead models.Lead) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leads = append(c.leads, lead)
	return c.err
}

// countingStore wraps an in-memory store and can fail reads or writes
type countingStore struct {
	*memory.InMemoryStore
	mu      sync.Mutex
	gets    int
	puts    int
	failGet error
	failPut error
}

func (s *countingStore) Get(ctx context.Context, threadID string) (*models.ConversationState, error) {
	s.mu.Lock()
	s.gets++
	err := s.failGet
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.InMemoryStore.Get(ctx, threadID)
}

func (s *countingStore) Put(ctx context.Context, state *models.ConversationState) error {
	s.mu.Lock()
	s.puts++
	err := s.failPut
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.InMemoryStore.Put(ctx, state)
}

type harness struct {
	orch       *Orchestrator
	classifier *stubClassifier
	extractor  *stubExtractor
	responder  *recordingResponder
	capturer   *recordingCapturer
	store      *countingStore
	metrics    *metrics.Metrics
	kb         *knowledge.KnowledgeBase
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	kb, err := knowledge.Parse([]byte(testKB))
	require.NoError(t, err)

	h := &harness{
		classifier: &stubClassifier{intents: map[string]models.Intent{}},
		extractor:  &stubExtractor{fields: map[string]models.LeadFields{}},
		responder:  &recordingResponder{inner: NewTemplateResponder("AutoStream")},
		capturer:   &recordingCapturer{},
		store:      &countingStore{InMemoryStore: memory.NewInMemoryStore()},
		metrics:    metrics.New(prometheus.NewRegistry()),
		kb:         kb,
	}

	h.orch, err = NewOrchestrator(Dependencies{
		Classifier:  h.classifier,
		Extractor:   h.extractor,
		Retriever:   knowledge.NewRetriever(kb),
		Responder:   h.responder,
		Capturer:    h.capturer,
		Store:       h.store,
		Metrics:     h.metrics,
		Logger:      zerolog.Nop(),
		ProductName: "AutoStream",
	})
	require.NoError(t, err)
	return h
}

func (h *harness) say(message string, intent models.Intent, fields models.LeadFields) {
	h.classifier.intents[message] = intent
	h.extractor.fields[message] = fields
}

func (h *harness) lastRequest(t *testing.T) ResponseRequest {
	t.Helper()
	require.NotEmpty(t, h.responder.requests)
	return h.responder.requests[len(h.responder.requests)-1]
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(Dependencies{})
	assert.Error(t, err)
}

func TestChat_InvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Chat(context.Background(), "", "hello")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.orch.Chat(context.Background(), "t1", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Zero(t, h.store.gets)
	assert.Zero(t, h.store.puts)
}

func TestChat_GreetingHasNoContext(t *testing.T) {
	h := newHarness(t)
	h.say("Hi, what's up?", models.IntentGreeting, models.LeadFields{})

	reply, err := h.orch.Chat(context.Background(), "t1", "Hi, what's up?")
	require.NoError(t, err)

	assert.Equal(t, models.IntentGreeting, reply.Intent)
	assert.Empty(t, h.lastRequest(t).Context)
	assert.Contains(t, reply.Text, "Hello! I'm the AutoStream AI assistant")
	assert.Zero(t, h.extractor.calls)
	assert.Empty(t, h.capturer.leads)
}

func TestChat_ProductInquiryRetrievesPricing(t *testing.T) {
	h := newHarness(t)
	h.say("How much does it cost?", models.IntentProductInquiry, models.LeadFields{})

	reply, err := h.orch.Chat(context.Background(), "t1", "How much does it cost?")
	require.NoError(t, err)

	pricing, ok := h.kb.Section(knowledge.SectionPricing)
	require.True(t, ok)

	req := h.lastRequest(t)
	assert.Equal(t, "Pricing Plans: "+pricing, req.Context)
	assert.Contains(t, reply.Text, pricing)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RetrievalTopicsTotal.WithLabelValues(knowledge.TopicPricing)))
}

func TestChat_ProductInquiryWithoutMatchStillReplies(t *testing.T) {
	h := newHarness(t)
	h.say("Do you do color grading?", models.IntentProductInquiry, models.LeadFields{})

	reply, err := h.orch.Chat(context.Background(), "t1", "Do you do color grading?")
	require.NoError(t, err)
	assert.Empty(t, h.lastRequest(t).Context)
	assert.NotEmpty(t, reply.Text)
}

func TestChat_FullLeadFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.say("Hi there", models.IntentGreeting, models.LeadFields{})
	h.say("Tell me about your pricing", models.IntentProductInquiry, models.LeadFields{})
	h.say("I want Pro. I'm Dana, dana@x.com, on YouTube", models.IntentHighIntent,
		models.LeadFields{Name: "Dana", Email: "dana@x.com", Platform: "YouTube"})

	_, err := h.orch.Chat(ctx, "t1", "Hi there")
	require.NoError(t, err)

	_, err = h.orch.Chat(ctx, "t1", "Tell me about your pricing")
	require.NoError(t, err)
	pricing, _ := h.kb.Section(knowledge.SectionPricing)
	assert.Contains(t, h.lastRequest(t).Context, pricing)

	requestsBefore := len(h.responder.requests)
	reply, err := h.orch.Chat(ctx, "t1", "I want Pro. I'm Dana, dana@x.com, on YouTube")
	require.NoError(t, err)

	require.Len(t, h.capturer.leads, 1)
	lead := h.capturer.leads[0]
	assert.Equal(t, "Dana", lead.Name)
	assert.Equal(t, "dana@x.com", lead.Email)
	assert.Equal(t, "YouTube", lead.Platform)
	assert.Equal(t, "t1", lead.ThreadID)

	assert.Contains(t, reply.Text, "Welcome aboard, Dana!")
	assert.True(t, reply.LeadCaptured)
	assert.Empty(t, reply.Missing)
	assert.Len(t, h.responder.requests, requestsBefore, "capture turn does not generate")

	state, err := h.orch.State(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 6)
	assert.Equal(t, 3, state.Turns)
	assert.Equal(t, models.IntentHighIntent, state.Intent)
	assert.True(t, state.LeadCaptured)
	assert.Empty(t, state.KnowledgeContext, "knowledge context is not persisted")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LeadCapturesTotal.WithLabelValues("success")))
}

func TestChat_MissingEmailAsksForEmailOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.say("Hi there", models.IntentGreeting, models.LeadFields{})
	h.say("Sign me up! I'm Dana and I post on YouTube", models.IntentHighIntent,
		models.LeadFields{Name: "Dana", Platform: "YouTube"})

	_, err := h.orch.Chat(ctx, "t1", "Hi there")
	require.NoError(t, err)

	reply, err := h.orch.Chat(ctx, "t1", "Sign me up! I'm Dana and I post on YouTube")
	require.NoError(t, err)

	assert.Equal(t, []string{models.FieldEmail}, reply.Missing)
	assert.Equal(t, []string{models.FieldEmail}, h.lastRequest(t).Missing)
	assert.Empty(t, h.capturer.leads)
	assert.False(t, reply.LeadCaptured)
	assert.True(t, strings.HasSuffix(reply.Text, "I'll need your email."))
	assert.NotContains(t, reply.Text, "name")
}

func TestChat_FieldsAccumulateAcrossTurnsAndNeverClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.say("I want to try it, I'm Ana", models.IntentHighIntent, models.LeadFields{Name: "Ana"})
	h.say("Still interested", models.IntentHighIntent, models.LeadFields{})
	h.say("ana@x.com", models.IntentHighIntent, models.LeadFields{Email: "ana@x.com"})
	h.say("YouTube", models.IntentHighIntent, models.LeadFields{Platform: "YouTube"})

	reply, err := h.orch.Chat(ctx, "t2", "I want to try it, I'm Ana")
	require.NoError(t, err)
	assert.Equal(t, []string{models.FieldEmail, models.FieldPlatform}, reply.Missing)

	reply, err = h.orch.Chat(ctx, "t2", "Still interested")
	require.NoError(t, err)
	assert.Equal(t, []string{models.FieldEmail, models.FieldPlatform}, reply.Missing)

	state, err := h.orch.State(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "Ana", state.Lead.Name)

	reply, err = h.orch.Chat(ctx, "t2", "ana@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{models.FieldPlatform}, reply.Missing)
	assert.Empty(t, h.capturer.leads)

	reply, err = h.orch.Chat(ctx, "t2", "YouTube")
	require.NoError(t, err)
	assert.True(t, reply.LeadCaptured)
	require.Len(t, h.capturer.leads, 1)
	assert.Equal(t, "Ana", h.capturer.leads[0].Name)
}

func TestChat_OneReadAndOneWritePerTurn(t *testing.T) {
	h := newHarness(t)
	h.say("hello", models.IntentGreeting, models.LeadFields{})

	for i := 0; i < 3; i++ {
		_, err := h.orch.Chat(context.Background(), "t1", "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.store.gets)
	assert.Equal(t, 3, h.store.puts)
}

func TestChat_ClassificationFailureAbortsWithoutWriting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.say("hello", models.IntentGreeting, models.LeadFields{})

	_, err := h.orch.Chat(ctx, "t1", "hello")
	require.NoError(t, err)

	reply, err := h.orch.Chat(ctx, "t1", "gibberish the model can't label")
	require.Error(t, err)

	var turnErr *TurnError
	require.True(t, errors.As(err, &turnErr))
	assert.Equal(t, StageClassify, turnErr.Stage)

	var clsErr *ClassificationError
	assert.True(t, errors.As(err, &clsErr))

	assert.Equal(t, FallbackReply, reply.Text)
	assert.Equal(t, 1, h.store.puts)

	state, err := h.orch.State(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 2)
	assert.Equal(t, 1, state.Turns)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues("none", OutcomeAborted)))
}

func TestChat_StoreFailures(t *testing.T) {
	h := newHarness(t)
	h.say("hello", models.IntentGreeting, models.LeadFields{})

	h.store.failGet = errors.New("redis down")
	reply, err := h.orch.Chat(context.Background(), "t1", "hello")
	var turnErr *TurnError
	require.True(t, errors.As(err, &turnErr))
	assert.Equal(t, StageLoad, turnErr.Stage)
	assert.Equal(t, FallbackReply, reply.Text)

	h.store.failGet = nil
	h.store.failPut = errors.New("disk full")
	reply, err = h.orch.Chat(context.Background(), "t1", "hello")
	require.True(t, errors.As(err, &turnErr))
	assert.Equal(t, StageSave, turnErr.Stage)
	assert.Equal(t, FallbackReply, reply.Text)

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChat_CaptureFailureKeepsFieldsAndRetriesNextTurn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := "Sign me up: Dana, dana@x.com, YouTube"
	h.say(msg, models.IntentHighIntent, models.LeadFields{Name: "Dana", Email: "dana@x.com", Platform: "YouTube"})

	h.capturer.err = &integration.LeadCaptureError{Attempts: 3, Err: errors.New("crm down")}
	reply, err := h.orch.Chat(ctx, "t1", msg)
	require.NoError(t, err)
	assert.Equal(t, CaptureFailureReply, reply.Text)
	assert.False(t, reply.LeadCaptured)

	state, err := h.orch.State(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, state.Lead.Complete())
	assert.False(t, state.LeadCaptured)

	h.capturer.err = nil
	reply, err = h.orch.Chat(ctx, "t1", msg)
	require.NoError(t, err)
	assert.True(t, reply.LeadCaptured)
	assert.Len(t, h.capturer.leads, 2, "one capture call per complete turn")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LeadCapturesTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues(string(models.IntentHighIntent), OutcomeCaptureFailed)))
}

func TestChat_ResponderFailureUsesFallbackReply(t *testing.T) {
	h := newHarness(t)
	h.orch.responder = &failingResponder{}
	h.say("hello", models.IntentGreeting, models.LeadFields{})

	reply, err := h.orch.Chat(context.Background(), "t1", "hello")
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, reply.Text)
}

func TestChat_ThreadsAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.say("I'm Dana", models.IntentHighIntent, models.LeadFields{Name: "Dana"})
	h.say("I'm Ana", models.IntentHighIntent, models.LeadFields{Name: "Ana"})

	_, err := h.orch.Chat(ctx, "a", "I'm Dana")
	require.NoError(t, err)
	_, err = h.orch.Chat(ctx, "b", "I'm Ana")
	require.NoError(t, err)

	a, err := h.orch.State(ctx, "a")
	require.NoError(t, err)
	b, err := h.orch.State(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Dana", a.Lead.Name)
	assert.Equal(t, "Ana", b.Lead.Name)
}

func TestChat_ConcurrentTurnsOnOneThreadAreSerialized(t *testing.T) {
	h := newHarness(t)
	const turns = 20
	for i := 0; i < turns; i++ {
		h.say(fmt.Sprintf("hello %d", i), models.IntentGreeting, models.LeadFields{})
	}

	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.Chat(context.Background(), "shared", fmt.Sprintf("hello %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	state, err := h.orch.State(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, turns, state.Turns)
	require.Len(t, state.Messages, 2*turns)
	for i := 0; i < len(state.Messages); i += 2 {
		assert.Equal(t, models.RoleUser, state.Messages[i].Role)
		assert.Equal(t, models.RoleAgent, state.Messages[i+1].Role)
	}
	assert.Zero(t, h.orch.locks.size())
}
