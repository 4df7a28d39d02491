package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
)

var (
	ErrSchedulerNotRunning = errors.New("scheduler: not running")
	ErrJobQueueFull        = errors.New("scheduler: order queue is full")
	ErrInvalidConfig       = errors.New("scheduler: invalid configuration")
	// ErrOrderAlreadyQueued means the order has a queued or running job
	ErrOrderAlreadyQueued = errors.New("scheduler: order already queued")
)

// ---------------------------------------------------------------------------
// Order Sync Job Types
// ---------------------------------------------------------------------------

// OrderSyncJobStatus represents the status of an order sync job
type OrderSyncJobStatus string

const (
	OrderSyncJobStatusPending OrderSyncJobStatus = "PENDING"
	OrderSyncJobStatusRunning OrderSyncJobStatus = "RUNNING"
	OrderSyncJobStatusSuccess OrderSyncJobStatus = "SUCCESS"
	OrderSyncJobStatusFailed  OrderSyncJobStatus = "FAILED"
)

// OrderSyncJob is one processing pass over one order
type OrderSyncJob struct {
	ID          uuid.UUID
	OrderID     int64
	Status      OrderSyncJobStatus
	Error       string
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewOrderSyncJob creates a pending job for an order
func NewOrderSyncJob(orderID int64) *OrderSyncJob {
	return &OrderSyncJob{
		ID:          uuid.New(),
		OrderID:     orderID,
		Status:      OrderSyncJobStatusPending,
		SubmittedAt: time.Now(),
	}
}

// Start marks the job as running
func (j *OrderSyncJob) Start() {
	now := time.Now()
	j.Status = OrderSyncJobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *OrderSyncJob) Complete() {
	now := time.Now()
	j.Status = OrderSyncJobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *OrderSyncJob) Fail(err string) {
	now := time.Now()
	j.Status = OrderSyncJobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// Duration returns how long the job ran, zero until it completes
func (j *OrderSyncJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// PendingOrderSource lists orders that still need a processing pass
type PendingOrderSource interface {
	FindPending(ctx context.Context, limit int) ([]fulfillment.Order, error)
}

// OrderProcessor runs one processing pass over an order
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, orderID int64) error
}

// ---------------------------------------------------------------------------
// OrderSyncSchedulerConfig
// ---------------------------------------------------------------------------

// OrderSyncSchedulerConfig holds configuration for the order sync scheduler
type OrderSyncSchedulerConfig struct {
	// Workers is the number of orders processed concurrently
	Workers int
	// PollInterval is how often pending orders are listed
	PollInterval time.Duration
	// BatchSize caps the orders queued per poll
	BatchSize int
	// OrderTimeout bounds one processing pass
	OrderTimeout time.Duration
	// QueueSize is the job channel capacity
	QueueSize int
}

// DefaultOrderSyncSchedulerConfig returns default configuration
func DefaultOrderSyncSchedulerConfig() OrderSyncSchedulerConfig {
	return OrderSyncSchedulerConfig{
		Workers:      4,
		PollInterval: 30 * time.Second,
		BatchSize:    50,
		OrderTimeout: 5 * time.Minute,
		QueueSize:    100,
	}
}

// Validate validates the configuration
func (c *OrderSyncSchedulerConfig) Validate() error {
	if c.Workers <= 0 {
		return ErrInvalidConfig
	}
	if c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.BatchSize <= 0 {
		return ErrInvalidConfig
	}
	if c.OrderTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.QueueSize < c.BatchSize {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// OrderSyncScheduler
// ---------------------------------------------------------------------------

// OrderSyncScheduler polls for pending orders and feeds them to a worker pool.
// An order is queued at most once at a time.
type OrderSyncScheduler struct {
	config    OrderSyncSchedulerConfig
	source    PendingOrderSource
	processor OrderProcessor
	logger    *zap.Logger

	jobs      chan *OrderSyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	pollerWg  sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	queued    map[int64]struct{}

	// Job history for monitoring (in-memory, limited size)
	historyMu  sync.RWMutex
	history    []*OrderSyncJob
	maxHistory int
}

// NewOrderSyncScheduler creates a new order sync scheduler
func NewOrderSyncScheduler(config OrderSyncSchedulerConfig, source PendingOrderSource, processor OrderProcessor, logger *zap.Logger) (*OrderSyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OrderSyncScheduler{
		config:     config,
		source:     source,
		processor:  processor,
		logger:     logger,
		queued:     make(map[int64]struct{}),
		history:    make([]*OrderSyncJob, 0, 100),
		maxHistory: 100,
	}, nil
}

// Start starts the worker pool and the pending-order poller
func (s *OrderSyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.jobs = make(chan *OrderSyncJob, s.config.QueueSize)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.pollerWg.Add(1)
	go s.poll(ctx)

	s.logger.Info("Order sync scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Duration("order_timeout", s.config.OrderTimeout),
	)
	return nil
}

// Stop cancels in-flight passes and waits for the workers to exit
func (s *OrderSyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.pollerWg.Wait()

	s.mu.Lock()
	close(s.jobs)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Order sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Order sync scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler accepts jobs
func (s *OrderSyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SubmitOrder queues a processing pass for an order
func (s *OrderSyncScheduler) SubmitOrder(orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	if _, ok := s.queued[orderID]; ok {
		return ErrOrderAlreadyQueued
	}

	job := NewOrderSyncJob(orderID)
	select {
	case s.jobs <- job:
		s.queued[orderID] = struct{}{}
		s.logger.Debug("Order sync job submitted",
			zap.String("job_id", job.ID.String()),
			zap.Int64("order_id", orderID),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// PollOnce lists pending orders and queues those not already queued.
// It returns how many were queued.
func (s *OrderSyncScheduler) PollOnce(ctx context.Context) (int, error) {
	orders, err := s.source.FindPending(ctx, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for i := range orders {
		switch err := s.SubmitOrder(orders[i].ID); err {
		case nil:
			queued++
		case ErrOrderAlreadyQueued:
		default:
			return queued, err
		}
	}
	return queued, nil
}

func (s *OrderSyncScheduler) poll(ctx context.Context) {
	defer s.pollerWg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if n, err := s.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Pending order poll failed", zap.Int("queued", n), zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("Pending orders queued", zap.Int("queued", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// worker processes jobs from the queue
func (s *OrderSyncScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Order sync worker started", zap.Int("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Order sync worker stopping", zap.Int("worker_id", workerID))
			return
		case job, ok := <-s.jobs:
			if !ok {
				s.logger.Debug("Order sync job channel closed", zap.Int("worker_id", workerID))
				return
			}
			s.processJob(ctx, job, workerID)
		}
	}
}

// processJob executes a single job
func (s *OrderSyncScheduler) processJob(ctx context.Context, job *OrderSyncJob, workerID int) {
	defer func() {
		s.mu.Lock()
		delete(s.queued, job.OrderID)
		s.mu.Unlock()
		s.addToHistory(job)
	}()

	job.Start()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.OrderTimeout)
	defer cancel()

	if err := s.processor.ProcessOrder(jobCtx, job.OrderID); err != nil {
		job.Fail(err.Error())
		s.logger.Error("Order sync job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID.String()),
			zap.Int64("order_id", job.OrderID),
			zap.Error(err),
		)
		return
	}

	job.Complete()
	s.logger.Info("Order sync job completed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.Int64("order_id", job.OrderID),
		zap.Duration("duration", job.Duration()),
	)
}

// addToHistory adds a completed job to history
func (s *OrderSyncScheduler) addToHistory(job *OrderSyncJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*OrderSyncJob{job}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// GetJobHistory returns recent jobs, newest first
func (s *OrderSyncScheduler) GetJobHistory(limit int) []*OrderSyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}

	result := make([]*OrderSyncJob, limit)
	copy(result, s.history[:limit])
	return result
}

// GetJobHistoryByOrder returns recent jobs of one order, newest first
func (s *OrderSyncScheduler) GetJobHistoryByOrder(orderID int64, limit int) []*OrderSyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	result := make([]*OrderSyncJob, 0, limit)
	for _, job := range s.history {
		if job.OrderID == orderID {
			result = append(result, job)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}
