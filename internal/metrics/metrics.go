// Package metrics registers the bot's Prometheus series and serves them at
// /metrics in the text exposition format.
//
// Primary series:
//   - bot_cycles_total{status}           – cycles by terminal status
//   - bot_signals_total{outcome}         – evaluated signals (recommended|rejected)
//   - bot_rejections_total{reason}       – per-side filter rejections
//   - bot_orders_total{result}           – submissions (filled|resting|skipped|failed)
//   - bot_settlements_total{applied}     – settlement records (attributed|unattributed|duplicate)
//   - bot_run_notional_usd               – dollars committed this run (gauge)
//   - bot_win_rate                       – closed-loop window win rate (gauge)
//   - bot_brier_score                    – closed-loop window Brier score (gauge)
//   - bot_tuner_phase{phase}             – champion/challenger phase indicator
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles the registered collectors so components can record without
// touching globals. A nil *Set is safe: every method no-ops.
type Set struct {
	Cycles      *prometheus.CounterVec
	Signals     *prometheus.CounterVec
	Rejections  *prometheus.CounterVec
	Orders      *prometheus.CounterVec
	Settlements *prometheus.CounterVec
	RunNotional prometheus.Gauge
	WinRate     prometheus.Gauge
	Brier       prometheus.Gauge
	TunerPhase  *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New builds and registers the full series set on a private registry.
func New() *Set {
	s := &Set{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Cycles by terminal status.",
		}, []string{"status"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Evaluated signals by outcome.",
		}, []string{"outcome"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_rejections_total",
			Help: "Per-side filter rejections by reason.",
		}, []string{"reason"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Order attempts by result.",
		}, []string{"result"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_settlements_total",
			Help: "Settlement records by attribution result.",
		}, []string{"applied"}),
		RunNotional: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_run_notional_usd",
			Help: "Dollars committed during the current run.",
		}),
		WinRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_win_rate",
			Help: "Closed-loop window win rate.",
		}),
		Brier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_brier_score",
			Help: "Closed-loop window Brier score.",
		}),
		TunerPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bot_tuner_phase",
			Help: "Champion/challenger phase indicator (0/1 per labeled series).",
		}, []string{"phase"}),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		s.Cycles, s.Signals, s.Rejections, s.Orders, s.Settlements,
		s.RunNotional, s.WinRate, s.Brier, s.TunerPhase,
	)
	return s
}

// Handler returns the /metrics HTTP handler for this set's registry.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// CountCycle records a finished cycle's terminal status.
func (s *Set) CountCycle(status string) {
	if s == nil {
		return
	}
	s.Cycles.WithLabelValues(status).Inc()
}

// CountSignal records whether an evaluation produced a recommendation.
func (s *Set) CountSignal(recommended bool) {
	if s == nil {
		return
	}
	if recommended {
		s.Signals.WithLabelValues("recommended").Inc()
		return
	}
	s.Signals.WithLabelValues("rejected").Inc()
}

// CountRejection records one filter rejection reason.
func (s *Set) CountRejection(reason string) {
	if s == nil {
		return
	}
	s.Rejections.WithLabelValues(reason).Inc()
}

// CountOrder records one execution attempt's result.
func (s *Set) CountOrder(result string) {
	if s == nil {
		return
	}
	s.Orders.WithLabelValues(result).Inc()
}

// CountSettlements records n settlement records sharing an attribution result.
func (s *Set) CountSettlements(applied string, n int) {
	if s == nil || n <= 0 {
		return
	}
	s.Settlements.WithLabelValues(applied).Add(float64(n))
}

// ObserveReport publishes the closed-loop window gauges.
func (s *Set) ObserveReport(winRate, brier, runNotional float64) {
	if s == nil {
		return
	}
	s.WinRate.Set(winRate)
	s.Brier.Set(brier)
	s.RunNotional.Set(runNotional)
}

// SetTunerPhase flips the labeled phase indicators.
func (s *Set) SetTunerPhase(phase string) {
	if s == nil {
		return
	}
	for _, p := range []string{"stable", "evaluating"} {
		v := 0.0
		if p == phase {
			v = 1
		}
		s.TunerPhase.WithLabelValues(p).Set(v)
	}
}
