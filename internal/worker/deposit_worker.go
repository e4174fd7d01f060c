package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/observability"
	"github.com/seyilabs/chainvault/internal/service"
)

// DepositWorker polls watched addresses and credits incoming funds.
type DepositWorker struct {
	svc          *service.DepositService
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewDepositWorker(svc *service.DepositService) *DepositWorker {
	return &DepositWorker{
		svc:          svc,
		pollInterval: 30 * time.Second,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

func (w *DepositWorker) WithPollInterval(interval time.Duration) *DepositWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *DepositWorker) WithBatchSize(size int32) *DepositWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and polls deposits until stopped.
func (w *DepositWorker) Start(ctx context.Context) {
	zap.L().Info("deposit worker starting",
		zap.Duration("interval", w.pollInterval), zap.Int32("batch", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("deposit worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("deposit worker stop signal received")
			return
		case <-ticker.C:
			w.pollBatch(ctx)
		}
	}
}

func (w *DepositWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *DepositWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// PollOnce runs a single poll pass immediately. Useful for tests.
func (w *DepositWorker) PollOnce(ctx context.Context) error {
	return w.svc.PollDeposits(ctx, w.batchSize)
}

func (w *DepositWorker) pollBatch(ctx context.Context) {
	if err := w.svc.PollDeposits(ctx, w.batchSize); err != nil {
		observability.IncrementWorkerRun("deposit", "failed")
		zap.L().Error("deposit poll failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("deposit", "success")
}
