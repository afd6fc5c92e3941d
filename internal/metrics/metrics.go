// Package metrics exposes engine health over Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Collector holds all engine-level Prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	riskState     prometheus.Gauge
	drawdownPct   prometheus.Gauge
	portfolioCorr prometheus.Gauge
	equity        prometheus.Gauge
	strategyWeight *prometheus.GaugeVec

	decisions     *prometheus.CounterVec
	cyclesSkipped prometheus.Counter
	cascades      *prometheus.CounterVec
	checkpoints   *prometheus.CounterVec

	slippageBps prometheus.Histogram
	fillRatio   prometheus.Histogram
}

// NewCollector builds and registers all instruments on a private registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		riskState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_risk_state",
			Help: "Current circuit breaker state (0=GREEN, 1=YELLOW_1, 2=YELLOW_2, 3=RED)",
		}),
		drawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_drawdown_pct",
			Help: "Current drawdown from peak equity as a fraction",
		}),
		portfolioCorr: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_portfolio_correlation",
			Help: "Weighted average pairwise strategy correlation",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_equity",
			Help: "Current portfolio equity (cash plus position marks)",
		}),
		strategyWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_strategy_weight",
			Help: "Current capital allocation weight per strategy",
		}, []string{"strategy"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_decisions_total",
			Help: "Ensemble decisions emitted, by action",
		}, []string{"action"}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_cycles_skipped_total",
			Help: "Pipeline cycles skipped because the previous cycle was still running",
		}),
		cascades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cascade_events_total",
			Help: "Liquidation cascade responses triggered, by severity band",
		}, []string{"severity"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_checkpoints_total",
			Help: "Checkpoint writes, by result",
		}, []string{"result"}),
		slippageBps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_slippage_bps",
			Help:    "Total simulated slippage per execution in basis points",
			Buckets: []float64{5, 10, 15, 25, 50, 75, 100, 150, 200},
		}),
		fillRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_fill_ratio",
			Help:    "Fill ratio per simulated execution",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		}),
	}

	registry.MustRegister(
		c.riskState, c.drawdownPct, c.portfolioCorr, c.equity, c.strategyWeight,
		c.decisions, c.cyclesSkipped, c.cascades, c.checkpoints,
		c.slippageBps, c.fillRatio,
	)
	return c
}

// SetRiskState records the circuit breaker state and drawdown.
func (c *Collector) SetRiskState(severity int, drawdownPct float64) {
	c.riskState.Set(float64(severity))
	c.drawdownPct.Set(drawdownPct)
}

// SetPortfolioCorrelation records the latest weighted pairwise correlation.
func (c *Collector) SetPortfolioCorrelation(corr float64) {
	c.portfolioCorr.Set(corr)
}

// SetEquity records the current portfolio equity.
func (c *Collector) SetEquity(equity float64) {
	c.equity.Set(equity)
}

// SetStrategyWeights records the current allocation weights.
func (c *Collector) SetStrategyWeights(weights map[string]float64) {
	for id, w := range weights {
		c.strategyWeight.WithLabelValues(id).Set(w)
	}
}

// CountDecision increments the decision counter for an action.
func (c *Collector) CountDecision(action string) {
	c.decisions.WithLabelValues(action).Inc()
}

// CountSkippedCycle increments the skipped-cycle counter.
func (c *Collector) CountSkippedCycle() {
	c.cyclesSkipped.Inc()
}

// CountCascade increments the cascade counter for a severity band.
func (c *Collector) CountCascade(severity string) {
	c.cascades.WithLabelValues(severity).Inc()
}

// CountCheckpoint increments the checkpoint counter with result "ok" or "error".
func (c *Collector) CountCheckpoint(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.checkpoints.WithLabelValues(result).Inc()
}

// ObserveExecution records slippage and fill ratio for one execution.
func (c *Collector) ObserveExecution(slippageBps, fillRatio float64) {
	c.slippageBps.Observe(slippageBps)
	c.fillRatio.Observe(fillRatio)
}

// Serve starts the exposition endpoint and blocks until ctx is done.
func (c *Collector) Serve(ctx context.Context, listen string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", listen).Msg("metrics endpoint started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
