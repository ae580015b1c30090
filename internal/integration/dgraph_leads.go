package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/autostream/leadflow/internal/models"
)

// DgraphLeadGraph records captured leads and the platforms they create on as graph nodes
type DgraphLeadGraph struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewDgraphLeadGraph connects to a Dgraph alpha and installs the lead schema
func NewDgraphLeadGraph(ctx context.Context, alphaAddr string) (*DgraphLeadGraph, error) {
	conn, err := grpc.NewClient(alphaAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	g := &DgraphLeadGraph{
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		conn:   conn,
	}

	if err := g.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return g, nil
}

// initSchema sets up the Dgraph schema for leads and platforms
func (g *DgraphLeadGraph) initSchema(ctx context.Context) error {
	schema := `
		type Lead {
			lead.email
			lead.name
			lead.thread
			lead.captured
			lead.platform
		}

		type Platform {
			platform.name
		}

		lead.email: string @index(exact) @upsert .
		lead.name: string @index(term) .
		lead.thread: string @index(exact) .
		lead.captured: datetime @index(hour) .
		lead.platform: uid @reverse .
		platform.name: string @index(exact) @upsert .
	`

	return g.client.Alter(ctx, &api.Operation{Schema: schema})
}

func (g *DgraphLeadGraph) Name() string { return string(ServiceTypeDgraph) }

// Notify upserts the lead (keyed by email) and links it to its platform node
func (g *DgraphLeadGraph) Notify(ctx context.Context, lead models.Lead) error {
	query := `query q($email: string, $platform: string) {
		lead as var(func: eq(lead.email, $email))
		platform as var(func: eq(platform.name, $platform))
	}`

	captured := lead.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}

	payload := map[string]interface{}{
		"uid":           "uid(lead)",
		"dgraph.type":   "Lead",
		"lead.email":    lead.Email,
		"lead.name":     lead.Name,
		"lead.thread":   lead.ThreadID,
		"lead.captured": captured.UTC().Format(time.RFC3339),
		"lead.platform": map[string]interface{}{
			"uid":           "uid(platform)",
			"dgraph.type":   "Platform",
			"platform.name": normalizePlatform(lead.Platform),
		},
	}

	setJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal lead: %w", err)
	}

	req := &api.Request{
		Query: query,
		Vars: map[string]string{
			"$email":    lead.Email,
			"$platform": normalizePlatform(lead.Platform),
		},
		Mutations: []*api.Mutation{{SetJson: setJSON}},
		CommitNow: true,
	}

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)

	if _, err := txn.Do(ctx, req); err != nil {
		return fmt.Errorf("failed to upsert lead: %w", err)
	}
	return nil
}

// LeadsByPlatform returns the leads linked to a platform node
func (g *DgraphLeadGraph) LeadsByPlatform(ctx context.Context, platform string) ([]models.Lead, error) {
	q := `query q($platform: string) {
		platforms(func: eq(platform.name, $platform)) {
			leads: ~lead.platform {
				lead.email
				lead.name
				lead.thread
			}
		}
	}`

	txn := g.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$platform": normalizePlatform(platform)})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var result struct {
		Platforms []struct {
			Leads []struct {
				Email  string `json:"lead.email"`
				Name   string `json:"lead.name"`
				Thread string `json:"lead.thread"`
			} `json:"leads"`
		} `json:"platforms"`
	}

	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var leads []models.Lead
	for _, p := range result.Platforms {
		for _, l := range p.Leads {
			leads = append(leads, models.Lead{
				ThreadID: l.Thread,
				Name:     l.Name,
				Email:    l.Email,
				Platform: platform,
			})
		}
	}
	return leads, nil
}

// Close closes the gRPC connection
func (g *DgraphLeadGraph) Close() error {
	return g.conn.Close()
}

func normalizePlatform(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
