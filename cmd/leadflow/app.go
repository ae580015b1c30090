package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/autostream/leadflow/internal/agent"
	"github.com/autostream/leadflow/internal/config"
	"github.com/autostream/leadflow/internal/inference"
	"github.com/autostream/leadflow/internal/integration"
	"github.com/autostream/leadflow/internal/knowledge"
	"github.com/autostream/leadflow/internal/logger"
	"github.com/autostream/leadflow/internal/memory"
	"github.com/autostream/leadflow/internal/metrics"
)

// app holds every long-lived component of a running leadflow process
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	client *inference.Client
	pool   *inference.Pool
	kb     *knowledge.KnowledgeBase
	store  memory.Store
	cache  *agent.IntentCache

	auditor *integration.SQLiteAuditLogger
	graph   *integration.DgraphLeadGraph

	orchestrator *agent.Orchestrator
}

type appOptions struct {
	templateReplies bool
}

// newApp wires configuration into a ready orchestrator. Call Close when done.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   log,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	kb, err := knowledge.Load(cfg.Knowledge.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	a.kb = kb

	observer := inference.MultiObserver{
		inference.NewLogObserver(log),
		inference.NewMetricsObserver(a.metrics),
	}
	a.client = inference.NewClient(inferenceConfig(cfg), observer)
	a.pool = inference.NewPool(a.client, &inference.PoolConfig{
		Workers:       cfg.LLM.MaxConcurrent * 2,
		QueueSize:     cfg.LLM.QueueSize,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
	})
	pool := a.pool
	metrics.RegisterPool(a.registry, func() metrics.PoolStats {
		return metrics.PoolStats{Queued: pool.QueueLength(), Inflight: pool.GetMetrics().CurrentInflight}
	})

	a.store, err = memory.New(cfg.Store.Backend, storeConfig(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	if cfg.Audit.Enabled {
		a.auditor, err = integration.NewSQLiteAuditLogger(cfg.Audit.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	capturer, err := a.buildCapturer(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if ttl := cfg.GetIntentCacheTTL(); ttl > 0 {
		a.cache = agent.NewIntentCache(ttl)
	}

	agentLog := logger.Component(log, "agent")
	a.orchestrator, err = agent.NewOrchestrator(agent.Dependencies{
		Classifier: agent.NewLLMClassifier(a.pool, agent.ClassifierConfig{
			Retries: cfg.Agent.ClassifyRetries,
			Cache:   a.cache,
		}, agentLog),
		Extractor:   agent.NewLLMExtractor(a.pool, agentLog, a.metrics),
		Retriever:   knowledge.NewRetriever(kb),
		Responder:   buildResponder(a.pool, cfg, opts, agentLog),
		Capturer:    capturer,
		Store:       a.store,
		Metrics:     a.metrics,
		Logger:      agentLog,
		ProductName: cfg.Agent.ProductName,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// buildResponder uses the model with template fallback unless template replies are forced
func buildResponder(gen inference.Generator, cfg *config.Config, opts appOptions, log zerolog.Logger) agent.Responder {
	templates := agent.NewTemplateResponder(cfg.Agent.ProductName)
	if opts.templateReplies || cfg.Agent.TemplateReplies {
		return templates
	}
	return agent.NewFallbackResponder(agent.NewLLMResponder(gen, cfg.Agent.ProductName), templates, log)
}

// buildCapturer assembles primary capture, retries, auditing and best-effort notifiers
func (a *app) buildCapturer(ctx context.Context) (integration.LeadCapturer, error) {
	cfg := a.cfg
	log := logger.Component(a.logger, "capture")

	var auditor integration.AuditLogger
	if a.auditor != nil {
		auditor = a.auditor
	}

	limiter := integration.NewTokenBucketRateLimiter()
	vault := integration.NewMemoryCredentialVault()

	var primary integration.LeadCapturer
	switch cfg.CRM.Backend {
	case config.CRMSalesforce:
		limiter.RegisterService(string(integration.ServiceTypeSalesforce), cfg.CRM.RateLimitPerHour)
		if err := vault.Store(ctx, string(integration.ServiceTypeSalesforce), &integration.Credentials{
			ServiceType: integration.ServiceTypeSalesforce,
			AccessToken: cfg.CRM.Salesforce.AccessToken,
			TokenType:   "Bearer",
		}); err != nil {
			return nil, fmt.Errorf("failed to store salesforce credentials: %w", err)
		}
		primary = integration.NewSalesforceConnector(&integration.SalesforceConfig{
			InstanceURL:    cfg.CRM.Salesforce.InstanceURL,
			APIVersion:     cfg.CRM.Salesforce.APIVersion,
			LeadSource:     cfg.CRM.Salesforce.LeadSource,
			DefaultCompany: cfg.CRM.Salesforce.DefaultCompany,
		}, vault, limiter, auditor)
	default:
		primary = integration.NewLogCapturer(log)
	}

	retrying := integration.NewRetryingCapturer(primary, integration.RetryConfig{
		Attempts: cfg.CRM.CaptureAttempts,
		Backoff:  cfg.GetCaptureBackoff(),
	}, auditor, log)

	var notifiers []integration.LeadNotifier
	if cfg.Slack.Enabled {
		limiter.RegisterService(string(integration.ServiceTypeSlack), cfg.CRM.RateLimitPerHour)
		notifiers = append(notifiers, integration.NewSlackConnector(&integration.SlackConfig{
			BaseURL:        cfg.Slack.BaseURL,
			BotToken:       cfg.Slack.BotToken,
			DefaultChannel: cfg.Slack.Channel,
		}, vault, limiter, auditor))
	}

	if cfg.Dgraph.Enabled {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		graph, err := integration.NewDgraphLeadGraph(dctx, cfg.Dgraph.Address)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("address", cfg.Dgraph.Address).Msg("lead graph disabled")
		} else {
			a.graph = graph
			notifiers = append(notifiers, graph)
		}
	}

	return integration.NewCaptureChain(retrying, log, notifiers...), nil
}

// Close releases every component that was opened
func (a *app) Close() {
	if a.pool != nil {
		if err := a.pool.Shutdown(5 * time.Second); err != nil {
			a.logger.Warn().Err(err).Msg("inference pool did not drain")
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.graph != nil {
		_ = a.graph.Close()
	}
	if a.auditor != nil {
		_ = a.auditor.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close state store")
		}
	}
}

func inferenceConfig(cfg *config.Config) *inference.Config {
	tasks := make(map[inference.Task]inference.TaskConfig, len(cfg.LLM.Tasks))
	for name := range cfg.LLM.Tasks {
		tasks[inference.Task(name)] = inference.TaskConfig{
			Temperature: cfg.LLM.TaskTemperature(name),
			Timeout:     cfg.LLM.TaskTimeout(name),
		}
	}

	return &inference.Config{
		OllamaURL:   cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		ContextSize: cfg.LLM.ContextSize,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
		MaxRetries:  cfg.LLM.MaxRetries,
		Tasks:       tasks,
	}
}

func storeConfig(cfg *config.Config) *memory.Config {
	return &memory.Config{
		RedisURL:      cfg.Store.Redis.Addr,
		RedisPassword: cfg.Store.Redis.Password,
		RedisDB:       cfg.Store.Redis.DB,
		RedisTTL:      cfg.GetRedisTTL(),
		BadgerPath:    cfg.Store.Badger.Path,
	}
}
