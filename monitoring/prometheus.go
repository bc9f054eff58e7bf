package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qdag/logx"
)

type UnitRejectedReason string

var (
	UnitInvalidClassicalSig UnitRejectedReason = "invalid_classical_signature"
	UnitInvalidPQCSig       UnitRejectedReason = "invalid_pqc_signature"
	UnitPrimeHashMismatch   UnitRejectedReason = "prime_hash_mismatch"
	UnitUnknownValidator    UnitRejectedReason = "unknown_validator"
	UnitUnknownParent       UnitRejectedReason = "unknown_parent"
	UnitCycleDetected       UnitRejectedReason = "cycle_detected"
	UnitDuplicate           UnitRejectedReason = "duplicate"
	UnitConflictLoser       UnitRejectedReason = "conflict_loser"
	UnitRejectedUnknown     UnitRejectedReason = "other"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds prometheus.Gauge
	pendingUnits      prometheus.Gauge
	tipCount          prometheus.Gauge
	finalizedHeight   prometheus.Gauge
	rejectedUnitCount *prometheus.CounterVec
	roundDuration     prometheus.Histogram
	abortedRoundCount prometheus.Counter
	consecutiveAborts prometheus.Gauge
	ingressTxCount    prometheus.Counter
	timeToFinality    prometheus.Histogram
	peerCount         prometheus.Gauge
	panicCount        prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "qdag_node_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the node",
			},
		),
		pendingUnits: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "qdag_node_pending_units",
				Help: "Number of units in the DAG awaiting finality",
			},
		),
		tipCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "qdag_node_tip_count",
				Help: "Number of current DAG tips",
			},
		),
		finalizedHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "qdag_node_finalized_height",
				Help: "Offset of the last entry in the finalized sequence log",
			},
		),
		rejectedUnitCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qdag_node_rejected_unit_count",
				Help: "The total number of rejected units",
			},
			[]string{"reason"},
		),
		roundDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "qdag_node_round_duration_seconds",
				Help: "Duration in seconds of a consensus round from propose to decide",
			},
		),
		abortedRoundCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "qdag_node_aborted_round_count",
				Help: "The total number of aborted consensus rounds",
			},
		),
		consecutiveAborts: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "qdag_node_consecutive_aborted_rounds",
				Help: "Number of consecutive aborted rounds, reset on commit",
			},
		),
		ingressTxCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "qdag_node_ingress_tx_count",
				Help: "The total number of transactions received from clients",
			},
		),
		timeToFinality: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "qdag_node_time_to_finality",
				Help: "Latency in seconds from unit creation until finality",
			},
		),
		peerCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "qdag_node_peer_count",
				Help: "The total number of peer connections",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "qdag_node_panic_count",
				Help: "The total number of recovered panics",
			},
		),
	}
}

var nodeMetrics *nodePromMetrics

// InitMetrics initializes node metrics but does not expose them yet
func InitMetrics() {
	nodeMetrics = newNodePromMetrics()
	nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func initialized() bool {
	return nodeMetrics != nil
}

func SetPendingUnits(n int) {
	if initialized() {
		nodeMetrics.pendingUnits.Set(float64(n))
	}
}

func SetTipCount(n int) {
	if initialized() {
		nodeMetrics.tipCount.Set(float64(n))
	}
}

func SetFinalizedHeight(offset uint64) {
	if initialized() {
		nodeMetrics.finalizedHeight.Set(float64(offset))
	}
}

func RecordRejectedUnit(reason UnitRejectedReason) {
	if initialized() {
		nodeMetrics.rejectedUnitCount.With(prometheus.Labels{
			"reason": string(reason),
		}).Inc()
	}
}

func RecordRoundDuration(d time.Duration) {
	if initialized() {
		nodeMetrics.roundDuration.Observe(d.Seconds())
	}
}

func IncreaseAbortedRoundCount() {
	if initialized() {
		nodeMetrics.abortedRoundCount.Inc()
	}
}

func SetConsecutiveAborts(n int) {
	if initialized() {
		nodeMetrics.consecutiveAborts.Set(float64(n))
	}
}

func IncreaseIngressTxCount() {
	if initialized() {
		nodeMetrics.ingressTxCount.Inc()
	}
}

func RecordTimeToFinality(d time.Duration) {
	if initialized() {
		nodeMetrics.timeToFinality.Observe(d.Seconds())
	}
}

func SetPeerCount(peers int) {
	if initialized() {
		nodeMetrics.peerCount.Set(float64(peers))
	}
}

func IncreasePanicCount() {
	if initialized() {
		nodeMetrics.panicCount.Inc()
	}
}
