// Package metrics exposes the relayer's Prometheus gauges and counters.
// The teacher's go.mod already declares client_golang; this package is
// its first actual import in this codebase, wired to the supervisor's
// 30-second status tick (spec.md section 4.7).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric the relayer exports. The supervisor's
// tick sets the head heights, signer balance, leaf count, pending CHILD
// tx count and router inbox depth; FatalErrors is incremented when Run
// shuts down on a fatal error. SecondsSinceRootTick and DomainDuplicates
// are registered but never updated.
type Registry struct {
	RootHeadHeight       prometheus.Gauge
	ChildHeadHeight      prometheus.Gauge
	RootSignerBalance    prometheus.Gauge
	UnsetLeafCount        prometheus.Gauge
	PendingChildTxCount  prometheus.Gauge
	SecondsSinceRootTick prometheus.Gauge
	RouterInboxDepth     prometheus.Gauge
	DomainDuplicates     prometheus.Counter
	FatalErrors          prometheus.Counter
}

// NewRegistry constructs and registers every metric against a fresh
// prometheus.Registry (not the global default, so tests can construct
// more than one Registry without collector-already-registered panics).
func NewRegistry() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	r := &Registry{
		RootHeadHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_root_head_height", Help: "Last observed ROOT chain head height.",
		}),
		ChildHeadHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_child_head_height", Help: "Last observed CHILD chain finalized height.",
		}),
		RootSignerBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_root_signer_balance_wei", Help: "ROOT signer account balance, in wei.",
		}),
		UnsetLeafCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_unset_leaf_count", Help: "CHILD withdraw leaves not yet covered by a set Merkle root.",
		}),
		PendingChildTxCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_pending_child_tx_count", Help: "CHILD transactions awaiting confirmation.",
		}),
		SecondsSinceRootTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_seconds_since_last_merkle_tick", Help: "Seconds since the Merkle set worker last ticked.",
		}),
		RouterInboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayer_router_inbox_depth", Help: "Messages queued in the router's inbox.",
		}),
		DomainDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayer_domain_duplicates_total", Help: "CHILD transactions rejected as already-applied duplicates.",
		}),
		FatalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayer_fatal_errors_total", Help: "Fatal errors observed before process exit.",
		}),
	}
	reg.MustRegister(r.RootHeadHeight, r.ChildHeadHeight, r.RootSignerBalance, r.UnsetLeafCount,
		r.PendingChildTxCount, r.SecondsSinceRootTick, r.RouterInboxDepth, r.DomainDuplicates, r.FatalErrors)
	return r, reg
}

// Handler returns the HTTP handler to serve at the configured
// PROMETHEUS_BIND address.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
