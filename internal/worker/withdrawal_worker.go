package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/observability"
	"github.com/seyilabs/chainvault/internal/service"
)

// WithdrawalWorker broadcasts queued withdrawals in the background.
// Safe for concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type WithdrawalWorker struct {
	svc          *service.WithdrawalService
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewWithdrawalWorker(svc *service.WithdrawalService) *WithdrawalWorker {
	return &WithdrawalWorker{
		svc:          svc,
		pollInterval: 10 * time.Second,
		batchSize:    10,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *WithdrawalWorker) WithPollInterval(interval time.Duration) *WithdrawalWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *WithdrawalWorker) WithBatchSize(size int32) *WithdrawalWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and drains withdrawal batches until stopped.
func (w *WithdrawalWorker) Start(ctx context.Context) {
	zap.L().Info("withdrawal worker starting",
		zap.Duration("interval", w.pollInterval), zap.Int32("batch", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("withdrawal worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("withdrawal worker stop signal received")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *WithdrawalWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *WithdrawalWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce drains a single batch immediately. Useful for tests.
func (w *WithdrawalWorker) ProcessOnce(ctx context.Context) error {
	return w.svc.ProcessWithdrawals(ctx, w.batchSize)
}

func (w *WithdrawalWorker) processBatch(ctx context.Context) {
	if err := w.svc.ProcessWithdrawals(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("withdrawal", "failed")
		zap.L().Error("withdrawal batch failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("withdrawal", "success")

	if backlog, err := w.svc.PendingBacklog(ctx); err == nil {
		observability.SetPendingWithdrawals(backlog)
	}
}

func (w *WithdrawalWorker) String() string {
	return fmt.Sprintf("WithdrawalWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
