package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// printing
	ReceiptsPrinted prometheus.Counter
	PrintFailures   *prometheus.CounterVec
	BytesSent       prometheus.Counter
	ChunksSent      prometheus.Counter
	PrintLatencySec prometheus.Histogram

	// order intake and tallies
	OrdersIngested    prometheus.Counter
	OrdersDuplicate   prometheus.Counter
	TallyApplied      prometheus.Counter
	TallySkipped      prometheus.Counter
	ChangelogAppended prometheus.Counter

	// recovery
	Applied            prometheus.Counter
	Skipped            prometheus.Counter
	TTRSec             prometheus.Gauge
	ReplayBytes        prometheus.Counter
	Lag                prometheus.Gauge
	LastManifestAgeSec prometheus.Gauge

	// canonicalize stage
	TxProduced   prometheus.Counter
	TxAborted    prometheus.Counter
	TxLatencySec prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	printed := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_receipts_printed_total"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rpn_print_failures_total"}, []string{"kind"})
	bytesSent := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_print_bytes_total"})
	chunksSent := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_print_chunks_total"})
	printLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rpn_print_latency_seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	})

	ingested := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_orders_ingested_total"})
	duplicate := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_orders_duplicate_total"})
	tallyApplied := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_tally_applied_total"})
	tallySkipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_tally_skipped_total"})
	changelogAppended := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_changelog_appended_total"})

	applied := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_replay_applied_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_replay_skipped_total"})
	ttr := prometheus.NewGauge(prometheus.GaugeOpts{Name: "rpn_recovery_ttr_seconds"})
	replayBytes := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_replay_bytes_total"})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{Name: "rpn_changelog_lag"})
	lastAge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "rpn_last_manifest_age_seconds"})

	txProduced := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_canonicalize_tx_produced_total"})
	txAborted := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpn_canonicalize_tx_aborted_total"})
	txLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rpn_canonicalize_tx_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(printed, failures, bytesSent, chunksSent, printLatency,
		ingested, duplicate, tallyApplied, tallySkipped, changelogAppended,
		applied, skipped, ttr, replayBytes, lag, lastAge,
		txProduced, txAborted, txLatency)
	return &Registry{
		reg:                r,
		ReceiptsPrinted:    printed,
		PrintFailures:      failures,
		BytesSent:          bytesSent,
		ChunksSent:         chunksSent,
		PrintLatencySec:    printLatency,
		OrdersIngested:     ingested,
		OrdersDuplicate:    duplicate,
		TallyApplied:       tallyApplied,
		TallySkipped:       tallySkipped,
		ChangelogAppended:  changelogAppended,
		Applied:            applied,
		Skipped:            skipped,
		TTRSec:             ttr,
		ReplayBytes:        replayBytes,
		Lag:                lag,
		LastManifestAgeSec: lastAge,
		TxProduced:         txProduced,
		TxAborted:          txAborted,
		TxLatencySec:       txLatency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
