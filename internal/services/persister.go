package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/metrics"
	"github.com/proptax/calculator/api/internal/models"
)

// ErrPersisterClosed is returned by Close when called twice.
var ErrPersisterClosed = errors.New("persister closed")

// PersistJob is one cache write scheduled after a response.
type PersistJob struct {
	Address   string
	Record    models.PropertyRecord
	Analysis  *models.TaxAnalysis
	RequestID string
}

// Persister schedules cache writes off the request path.
type Persister interface {
	// Enqueue schedules job and reports whether it was accepted. It never
	// blocks; a full queue drops the job.
	Enqueue(job PersistJob) bool
}

// PersisterOptions sizes an AsyncPersister.
type PersisterOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// AsyncPersister runs cache writes on a fixed pool of workers. Each write gets
// its own context, detached from the request that produced it.
type AsyncPersister struct {
	cache   PropertyCache
	log     *logger.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	jobs chan PersistJob
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ Persister = (*AsyncPersister)(nil)

// NewAsyncPersister starts opts.Workers workers draining a queue of
// opts.QueueSize jobs.
func NewAsyncPersister(cache PropertyCache, opts PersisterOptions, log *logger.Logger, m *metrics.Metrics) *AsyncPersister {
	workers := max(opts.Workers, 1)
	queueSize := max(opts.QueueSize, 1)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	p := &AsyncPersister{
		cache:   cache,
		log:     log,
		metrics: m,
		timeout: timeout,
		jobs:    make(chan PersistJob, queueSize),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *AsyncPersister) Enqueue(job PersistJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(job, "persister closed")
		return false
	}

	select {
	case p.jobs <- job:
		p.metrics.SetPersistQueueDepth(len(p.jobs))
		return true
	default:
		p.drop(job, "queue full")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx
// to expire.
func (p *AsyncPersister) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPersisterClosed
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.log.Warn("Persister shutdown timed out with writes pending", map[string]interface{}{
			"pending": len(p.jobs),
		})
		return ctx.Err()
	}
}

func (p *AsyncPersister) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.metrics.SetPersistQueueDepth(len(p.jobs))
		p.persist(job)
	}
}

func (p *AsyncPersister) persist(job PersistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	log := p.log
	if job.RequestID != "" {
		log = log.WithRequestID(job.RequestID)
	}

	result, err := p.cache.Put(ctx, job.Address, job.Record, job.Analysis)
	if err != nil {
		log.Error("Failed to persist property", err, map[string]interface{}{
			"address": job.Address,
		})
		p.metrics.Persist(metrics.PersistFailed)
		return
	}

	log.Info("Property persisted", map[string]interface{}{
		"address_key":     result.Key,
		"scrape_count":    result.ScrapeCount,
		"is_new_property": result.IsNewProperty,
		"has_analysis":    job.Analysis != nil,
	})
	p.metrics.Persist(metrics.PersistSaved)
}

func (p *AsyncPersister) drop(job PersistJob, reason string) {
	fields := map[string]interface{}{
		"address": job.Address,
		"reason":  reason,
	}
	if job.RequestID != "" {
		fields["request_id"] = job.RequestID
	}
	p.log.Warn("Dropping cache write", fields)
	p.metrics.Persist(metrics.PersistDropped)
}
