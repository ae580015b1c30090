package inference

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request represents a queued inference request
type Request struct {
	ID       string
	Task     Task
	Prompt   string
	Callback func(*InferenceResult) // Called when completed
	Context  context.Context
}

// Pool bounds concurrent model calls across conversation threads.
// It implements Generator, so callers can use it in place of a Client.
type Pool struct {
	backend   Generator
	workers   int
	queue     chan *Request
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	semaphore chan struct{} // Limits concurrent requests
	metrics   *PoolMetrics
	mu        sync.RWMutex
	closed    bool
}

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	TotalRequests   int64
	CompletedOK     int64
	CompletedError  int64
	AverageLatency  time.Duration
	TotalLatency    time.Duration
	CurrentInflight int
	mu              sync.RWMutex
}

// PoolConfig holds pool configuration
type PoolConfig struct {
	Workers       int // Number of worker goroutines
	QueueSize     int // Size of request queue
	MaxConcurrent int // Maximum concurrent model calls
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:       runtime.NumCPU() * 2,
		QueueSize:     256,
		MaxConcurrent: 4, // Match typical Ollama defaults
	}
}

// NewPool creates a pool that runs requests against backend
func NewPool(backend Generator, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		backend:   backend,
		workers:   config.Workers,
		queue:     make(chan *Request, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		semaphore: make(chan struct{}, config.MaxConcurrent),
		metrics:   &PoolMetrics{},
	}

	for i := 0; i < pool.workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

// worker processes requests from the queue
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case req, ok := <-p.queue:
			if !ok {
				return
			}
			p.processRequest(req)
		}
	}
}

// processRequest handles a single inference request
func (p *Pool) processRequest(req *Request) {
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-req.Context.Done():
		// Request cancelled while waiting for a slot
		if req.Callback != nil {
			req.Callback(&InferenceResult{Error: req.Context.Err()})
		}
		return
	}

	p.metrics.mu.Lock()
	p.metrics.CurrentInflight++
	p.metrics.mu.Unlock()

	defer func() {
		p.metrics.mu.Lock()
		p.metrics.CurrentInflight--
		p.metrics.mu.Unlock()
	}()

	startTime := time.Now()
	result, err := p.backend.GenerateSync(req.Context, req.Task, req.Prompt)
	latency := time.Since(startTime)

	if result == nil {
		result = &InferenceResult{}
	}
	if err != nil {
		result.Error = err
	}
	result.Latency = latency

	p.updateMetrics(latency, err == nil)

	if req.Callback != nil {
		req.Callback(result)
	}
}

// updateMetrics updates pool metrics
func (p *Pool) updateMetrics(latency time.Duration, success bool) {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	p.metrics.TotalRequests++
	if success {
		p.metrics.CompletedOK++
	} else {
		p.metrics.CompletedError++
	}

	p.metrics.TotalLatency += latency
	p.metrics.AverageLatency = p.metrics.TotalLatency / time.Duration(p.metrics.TotalRequests)
}

// Submit enqueues a request without waiting for its result.
// When the queue is full it blocks until there is room or req.Context is done.
func (p *Pool) Submit(req *Request) error {
	if req.Context == nil {
		req.Context = p.ctx
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- req:
		return nil
	case <-req.Context.Done():
		return req.Context.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// GenerateSync submits a request and waits for the result
func (p *Pool) GenerateSync(ctx context.Context, task Task, prompt string) (*InferenceResult, error) {
	resultChan := make(chan *InferenceResult, 1)

	req := &Request{
		Task:    task,
		Prompt:  prompt,
		Context: ctx,
		Callback: func(result *InferenceResult) {
			resultChan <- result
		},
	}

	if err := p.Submit(req); err != nil {
		return nil, err
	}

	select {
	case result := <-resultChan:
		if result.Error != nil {
			return nil, result.Error
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetMetrics returns current pool metrics
func (p *Pool) GetMetrics() PoolMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolMetrics{
		TotalRequests:   p.metrics.TotalRequests,
		CompletedOK:     p.metrics.CompletedOK,
		CompletedError:  p.metrics.CompletedError,
		AverageLatency:  p.metrics.AverageLatency,
		TotalLatency:    p.metrics.TotalLatency,
		CurrentInflight: p.metrics.CurrentInflight,
	}
}

// QueueLength returns the current queue length
func (p *Pool) QueueLength() int {
	return len(p.queue)
}

// Shutdown stops accepting requests and waits for queued ones to drain
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
