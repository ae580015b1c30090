package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autostream/leadflow/internal/agent"
	"github.com/autostream/leadflow/internal/config"
	"github.com/autostream/leadflow/internal/inference"
	"github.com/autostream/leadflow/internal/integration"
	"github.com/autostream/leadflow/internal/logger"
	"github.com/autostream/leadflow/internal/memory"
	"github.com/autostream/leadflow/internal/models"
)

const testKB = `{
  "pricing_plans": {"basic": {"price": "$29/month"}, "pro": {"price": "$79/month"}},
  "company_policies": {"refunds": "No refunds after 7 days"},
  "company_info": {"name": "AutoStream"}
}`

// fakeOllama answers classification and extraction prompts from the message text
func fakeOllama(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req inference.GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var reply string
		switch {
		case strings.Contains(req.Prompt, "Classify the user's intent"):
			message := userMessage(req.Prompt)
			switch {
			case strings.Contains(message, "sign up"):
				reply = "high_intent"
			case strings.Contains(message, "price"):
				reply = "product_inquiry"
			default:
				reply = "Greeting."
			}
		case strings.Contains(req.Prompt, "Extract the following information"):
			reply = "```json\n{\"name\": \"Dana\", \"email\": \"dana@x.com\", \"platform\": \"YouTube\"}\n```"
		default:
			reply = "model reply"
		}
		_ = json.NewEncoder(w).Encode(inference.GenerateResponse{Response: reply, Done: true})
	}))
}

func userMessage(prompt string) string {
	_, rest, _ := strings.Cut(prompt, "User message: ")
	line, _, _ := strings.Cut(rest, "\n")
	return line
}

func testAppConfig(t *testing.T, endpoint string) *config.Config {
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "kb.json")
	require.NoError(t, os.WriteFile(kbPath, []byte(testKB), 0644))

	cfg := config.Default()
	cfg.LLM.Endpoint = endpoint
	cfg.LLM.MaxRetries = 0
	cfg.Knowledge.Path = kbPath
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(dir, "audit.db")
	cfg.CRM.BackoffMs = 1
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewApp_EndToEnd(t *testing.T) {
	ollama := fakeOllama(t)
	defer ollama.Close()

	cfg := testAppConfig(t, ollama.URL)
	a, err := newApp(context.Background(), cfg, logger.Nop(), appOptions{})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()

	reply, err := a.orchestrator.Chat(ctx, "t1", "hello!")
	require.NoError(t, err)
	assert.Equal(t, models.IntentGreeting, reply.Intent)
	assert.Equal(t, "model reply", reply.Text)

	reply, err = a.orchestrator.Chat(ctx, "t1", "I want to sign up")
	require.NoError(t, err)
	assert.True(t, reply.LeadCaptured)
	assert.Contains(t, reply.Text, "Welcome aboard, Dana!")

	service := integration.ServiceTypeCapture
	entries, err := a.auditor.Query(ctx, &integration.AuditFilter{Service: &service})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "t1", entries[0].UserID)

	families, err := a.registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["leadflow_turns_total"])
	assert.True(t, names["leadflow_llm_calls_total"])
	assert.True(t, names["leadflow_llm_queue_length"])
	assert.True(t, names["leadflow_llm_inflight_calls"])
}

func TestNewApp_TemplateReplies(t *testing.T) {
	ollama := fakeOllama(t)
	defer ollama.Close()

	cfg := testAppConfig(t, ollama.URL)
	a, err := newApp(context.Background(), cfg, logger.Nop(), appOptions{templateReplies: true})
	require.NoError(t, err)
	defer a.Close()

	reply, err := a.orchestrator.Chat(context.Background(), "t1", "what is the price?")
	require.NoError(t, err)
	assert.Equal(t, models.IntentProductInquiry, reply.Intent)
	assert.Contains(t, reply.Text, "$29/month")
}

func TestNewApp_MissingKnowledgeBase(t *testing.T) {
	cfg := config.Default()
	cfg.Knowledge.Path = filepath.Join(t.TempDir(), "absent.json")

	_, err := newApp(context.Background(), cfg, logger.Nop(), appOptions{})
	assert.Error(t, err)
}

func TestInferenceConfig(t *testing.T) {
	cfg := config.Default()
	ic := inferenceConfig(cfg)

	assert.Equal(t, cfg.LLM.Endpoint, ic.OllamaURL)
	assert.Equal(t, cfg.LLM.TaskTimeout(config.TaskClassify), ic.TaskTimeout(inference.TaskClassify))
	assert.Equal(t, cfg.LLM.TaskTimeout(config.TaskRespond), ic.TaskTimeout(inference.TaskRespond))
	assert.InDelta(t, 0.7, ic.TaskTemperature(inference.TaskRespond), 0.0001)
}

// scriptedChatter replays fixed replies and records the thread of each turn
type scriptedChatter struct {
	threads []string
	err     error
	state   *models.ConversationState
}

func (s *scriptedChatter) Chat(ctx context.Context, threadID, message string) (agent.Reply, error) {
	s.threads = append(s.threads, threadID)
	if s.err != nil {
		return agent.Reply{ThreadID: threadID, Text: agent.FallbackReply}, s.err
	}
	return agent.Reply{ThreadID: threadID, Text: "echo: " + message}, nil
}

func (s *scriptedChatter) State(ctx context.Context, threadID string) (*models.ConversationState, error) {
	if s.state == nil {
		return nil, memory.ErrThreadNotFound
	}
	return s.state, nil
}

func TestREPL_ChatAndQuit(t *testing.T) {
	c := &scriptedChatter{}
	in := strings.NewReader("hello\n\n/thread other\nhi again\nQUIT\nnever sent\n")
	var out strings.Builder

	require.NoError(t, runREPL(context.Background(), c, "default", in, &out))

	assert.Equal(t, []string{"default", "other"}, c.threads)
	assert.Contains(t, out.String(), "Agent: echo: hello")
	assert.Contains(t, out.String(), "Switched to thread other")
	assert.Contains(t, out.String(), "Goodbye!")
	assert.NotContains(t, out.String(), "never sent")
}

func TestREPL_AbortedTurnPrintsFallback(t *testing.T) {
	c := &scriptedChatter{err: &agent.TurnError{Stage: agent.StageClassify, Err: errors.New("down")}}
	var out strings.Builder

	require.NoError(t, runREPL(context.Background(), c, "default", strings.NewReader("hi\n"), &out))
	assert.Contains(t, out.String(), "Agent: "+agent.FallbackReply)
}

func TestREPL_StateAndNew(t *testing.T) {
	state := models.NewConversationState("default")
	state.Turns = 2
	state.Lead = models.LeadFields{Name: "Ana", Platform: "YouTube"}
	c := &scriptedChatter{state: state}
	var out strings.Builder

	require.NoError(t, runREPL(context.Background(), c, "default", strings.NewReader("/state\n/new\nhey\nexit\n"), &out))

	assert.Contains(t, out.String(), "Name:     Ana")
	assert.Contains(t, out.String(), "Email:    -")
	require.Len(t, c.threads, 1)
	assert.NotEqual(t, "default", c.threads[0])
	assert.Len(t, c.threads[0], 36)
}
