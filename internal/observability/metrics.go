package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	ledgerInconsistencyCtr  *prometheus.CounterVec
	idempotencyCounter      *prometheus.CounterVec
	withdrawalOutcomeCtr    *prometheus.CounterVec
	depositCreditedCtr      *prometheus.CounterVec
	chainCallErrorCtr       *prometheus.CounterVec
	broadcastRetryCtr       *prometheus.CounterVec
	pendingWithdrawalsGauge prometheus.Gauge
	workerRunCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerInconsistencyCtr = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_inconsistency_total",
			Help: "Number of wallet fund invariant violations detected",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		withdrawalOutcomeCtr = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_outcomes_total",
			Help: "Terminal withdrawal outcomes",
		}, []string{"currency", "outcome"})

		depositCreditedCtr = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deposits_credited_total",
			Help: "Deposits credited to wallets",
		}, []string{"currency"})

		chainCallErrorCtr = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chain_call_errors_total",
			Help: "Chain adapter call failures",
		}, []string{"chain", "kind"})

		broadcastRetryCtr = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_broadcast_retries_total",
			Help: "Withdrawal broadcast attempts beyond the first",
		}, []string{"chain"})

		pendingWithdrawalsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "withdrawals_pending",
			Help: "Withdrawals currently waiting for the broadcast worker",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerInconsistencyCtr,
			idempotencyCounter,
			withdrawalOutcomeCtr,
			depositCreditedCtr,
			chainCallErrorCtr,
			broadcastRetryCtr,
			pendingWithdrawalsGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerInconsistency(currency string) {
	if ledgerInconsistencyCtr == nil {
		return
	}
	ledgerInconsistencyCtr.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWithdrawalOutcome(currency, outcome string) {
	if withdrawalOutcomeCtr == nil {
		return
	}
	withdrawalOutcomeCtr.WithLabelValues(currency, outcome).Inc()
}

func IncrementDepositCredited(currency string) {
	if depositCreditedCtr == nil {
		return
	}
	depositCreditedCtr.WithLabelValues(currency).Inc()
}

func IncrementChainCallError(chain, kind string) {
	if chainCallErrorCtr == nil {
		return
	}
	chainCallErrorCtr.WithLabelValues(chain, kind).Inc()
}

func IncrementBroadcastRetry(chain string) {
	if broadcastRetryCtr == nil {
		return
	}
	broadcastRetryCtr.WithLabelValues(chain).Inc()
}

func SetPendingWithdrawals(n int64) {
	if pendingWithdrawalsGauge == nil {
		return
	}
	pendingWithdrawalsGauge.Set(float64(n))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
