package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSalesforce serves the query and sobjects endpoints
type fakeSalesforce struct {
	mu         sync.Mutex
	existingID string
	createFail bool
	queries    []string
	created    []map[string]interface{}
	authHeader string
}

func (f *fakeSalesforce) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /services/data/v59.0/query", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authHeader = r.Header.Get("Authorization")
		f.queries = append(f.queries, r.URL.Query().Get("q"))

		records := []map[string]interface{}{}
		if f.existingID != "" {
			records = append(records, map[string]interface{}{"Id": f.existingID})
		}
		_ = json.NewEncoder(w).Encode(QueryResult{TotalSize: len(records), Done: true, Records: records})
	})
	mux.HandleFunc("POST /services/data/v59.0/sobjects/Lead", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.createFail {
			http.Error(w, `[{"message":"boom"}]`, http.StatusInternalServerError)
			return
		}
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.created = append(f.created, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"00Q000000000001","success":true,"errors":[]}`))
	})
	return mux
}

func newTestSalesforce(t *testing.T, fake *fakeSalesforce) (*SalesforceConnector, *SQLiteAuditLogger) {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	vault := NewMemoryCredentialVault()
	require.NoError(t, vault.Store(context.Background(), "salesforce", &Credentials{
		ServiceType: ServiceTypeSalesforce,
		AccessToken: "sf-token",
	}))

	limiter := NewTokenBucketRateLimiter()
	limiter.RegisterService("salesforce", 3600)

	auditor, err := NewSQLiteAuditLogger(t.TempDir() + "/audit.db")
	require.NoError(t, err)
	t.Cleanup(func() { auditor.Close() })

	sf := NewSalesforceConnector(&SalesforceConfig{InstanceURL: srv.URL, LeadSource: "AutoStream Chat"}, vault, limiter, auditor)
	return sf, auditor
}

func TestSalesforce_CaptureCreatesLead(t *testing.T) {
	fake := &fakeSalesforce{}
	sf, auditor := newTestSalesforce(t, fake)

	require.NoError(t, sf.Capture(context.Background(), testLead()))
	assert.True(t, sf.IsConnected())
	// one query plus one create against 3600/h
	assert.Equal(t, 3598, sf.GetRateLimits().Remaining)

	require.Len(t, fake.created, 1)
	assert.Equal(t, "Dana", fake.created[0]["LastName"])
	assert.Equal(t, "Dana (YouTube)", fake.created[0]["Company"])
	assert.Equal(t, "dana@x.com", fake.created[0]["Email"])
	assert.Equal(t, "AutoStream Chat", fake.created[0]["LeadSource"])
	assert.Equal(t, "Creator platform: YouTube", fake.created[0]["Description"])
	assert.Equal(t, "Bearer sf-token", fake.authHeader)
	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0], "Email = 'dana@x.com'")

	service := ServiceTypeSalesforce
	entries, err := auditor.Query(context.Background(), &AuditFilter{Service: &service})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// newest first: the create call ran after the lookup
	assert.Equal(t, 3598.0, entries[0].Metadata["rate_limit_remaining"])
	assert.Equal(t, 3599.0, entries[1].Metadata["rate_limit_remaining"])
}

func TestSalesforce_DefaultCompany(t *testing.T) {
	fake := &fakeSalesforce{}
	sf, _ := newTestSalesforce(t, fake)
	sf.config.DefaultCompany = "Independent Creator"

	require.NoError(t, sf.Capture(context.Background(), testLead()))
	require.Len(t, fake.created, 1)
	assert.Equal(t, "Independent Creator", fake.created[0]["Company"])
}

func TestSalesforce_ExistingLeadIsNotDuplicated(t *testing.T) {
	fake := &fakeSalesforce{existingID: "00Q-existing"}
	sf, _ := newTestSalesforce(t, fake)

	require.NoError(t, sf.Capture(context.Background(), testLead()))
	assert.Empty(t, fake.created)
}

func TestSalesforce_CreateFailure(t *testing.T) {
	fake := &fakeSalesforce{createFail: true}
	sf, auditor := newTestSalesforce(t, fake)

	err := sf.Capture(context.Background(), testLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	failed := false
	entries, err := auditor.Query(context.Background(), &AuditFilter{Success: &failed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, http.StatusInternalServerError, entries[0].StatusCode)
}

func TestSalesforce_MissingCredentials(t *testing.T) {
	sf := NewSalesforceConnector(&SalesforceConfig{InstanceURL: "http://127.0.0.1:1"}, NewMemoryCredentialVault(), NewTokenBucketRateLimiter(), nil)

	err := sf.Capture(context.Background(), testLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials not found")
}

func TestEscapeSOQL(t *testing.T) {
	assert.Equal(t, `o\'brien@x.com`, escapeSOQL(`o'brien@x.com`))
	assert.Equal(t, `a\\b`, escapeSOQL(`a\b`))
}

func TestSlack_NotifyPostsMessage(t *testing.T) {
	var got map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"message":{"type":"message","text":"posted","ts":"1.0"}}`))
	}))
	defer srv.Close()

	slack := NewSlackConnector(&SlackConfig{BaseURL: srv.URL, BotToken: "xoxb-test", DefaultChannel: "#leads"},
		NewMemoryCredentialVault(), NewTokenBucketRateLimiter(), nil)

	require.NoError(t, slack.Notify(context.Background(), testLead()))
	assert.Equal(t, "Bearer xoxb-test", auth)
	assert.Equal(t, "#leads", got["channel"])
	text, _ := got["text"].(string)
	assert.True(t, strings.HasPrefix(text, "New lead: Dana <dana@x.com>"))
	assert.Contains(t, text, "YouTube")
}

func TestSlack_APIErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	slack := NewSlackConnector(&SlackConfig{BaseURL: srv.URL, BotToken: "xoxb-test", DefaultChannel: "#nope"},
		NewMemoryCredentialVault(), NewTokenBucketRateLimiter(), nil)

	err := slack.Notify(context.Background(), testLead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlack_NoCredentials(t *testing.T) {
	slack := NewSlackConnector(&SlackConfig{}, NewMemoryCredentialVault(), NewTokenBucketRateLimiter(), nil)
	assert.Error(t, slack.Notify(context.Background(), testLead()))
}

func TestDgraphLeadGraph(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	graph, err := NewDgraphLeadGraph(ctx, "localhost:9080")
	if err != nil {
		t.Skipf("Skipping test - Dgraph not available: %v", err)
	}
	defer graph.Close()

	lead := testLead()
	lead.Email = "dgraph-test-" + time.Now().Format("150405.000") + "@x.com"
	require.NoError(t, graph.Notify(ctx, lead))
	// upsert keyed by email
	require.NoError(t, graph.Notify(ctx, lead))

	leads, err := graph.LeadsByPlatform(ctx, "youtube")
	require.NoError(t, err)

	count := 0
	for _, l := range leads {
		if l.Email == lead.Email {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
