// Package allocation converts strategy performance into capital weights
// and tracks cross-strategy correlation.
package allocation

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Matrix is an immutable pairwise correlation snapshot. Symmetric, with
// diagonal exactly 1 for every strategy carrying at least one observation.
type Matrix struct {
	strategies []string
	rho        map[string]map[string]float64
	computedAt time.Time
}

// Correlation returns the correlation between two strategies, defaulting
// to 0 when either is unknown.
func (m *Matrix) Correlation(a, b string) float64 {
	if m == nil {
		return 0
	}
	if row, ok := m.rho[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	return 0
}

// Strategies returns the strategy IDs covered by the matrix, sorted.
func (m *Matrix) Strategies() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.strategies))
	copy(out, m.strategies)
	return out
}

// ComputedAt returns when the matrix was built.
func (m *Matrix) ComputedAt() time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.computedAt
}

// CorrelationView is the read-only accessor other components consume.
// The tracker owns the matrix; readers never mutate it.
type CorrelationView interface {
	Matrix() *Matrix
	PortfolioCorrelation(weights map[string]float64) float64
}

// CorrelationTracker maintains rolling return buffers per strategy and
// recomputes the pairwise Pearson matrix on a fixed cadence. The matrix is
// built fresh and swapped in whole, so readers never observe a partial
// update.
type CorrelationTracker struct {
	window int
	logger zerolog.Logger

	mu      sync.Mutex
	buffers map[string][]float64

	matrixMu sync.RWMutex
	matrix   *Matrix
}

// NewCorrelationTracker creates a tracker with the given rolling window.
func NewCorrelationTracker(window int, logger zerolog.Logger) *CorrelationTracker {
	return &CorrelationTracker{
		window:  window,
		logger:  logger.With().Str("component", "correlation").Logger(),
		buffers: make(map[string][]float64),
	}
}

// AddReturn appends a return observation for a strategy, evicting the
// oldest sample once the window is full.
func (t *CorrelationTracker) AddReturn(strategyID string, r float64) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		t.logger.Warn().Str("strategy", strategyID).Msg("Dropping non-finite return sample")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	buf := append(t.buffers[strategyID], r)
	if len(buf) > t.window {
		buf = buf[len(buf)-t.window:]
	}
	t.buffers[strategyID] = buf
}

// Recompute rebuilds the correlation matrix from the current buffers and
// swaps it in atomically.
func (t *CorrelationTracker) Recompute() {
	t.mu.Lock()
	buffers := make(map[string][]float64, len(t.buffers))
	for id, buf := range t.buffers {
		copied := make([]float64, len(buf))
		copy(copied, buf)
		buffers[id] = copied
	}
	t.mu.Unlock()

	strategies := make([]string, 0, len(buffers))
	for id := range buffers {
		if len(buffers[id]) > 0 {
			strategies = append(strategies, id)
		}
	}
	sort.Strings(strategies)

	rho := make(map[string]map[string]float64, len(strategies))
	for _, a := range strategies {
		rho[a] = make(map[string]float64, len(strategies))
		rho[a][a] = 1.0
	}
	for i, a := range strategies {
		for _, b := range strategies[i+1:] {
			c := pearson(buffers[a], buffers[b])
			rho[a][b] = c
			rho[b][a] = c
		}
	}

	m := &Matrix{strategies: strategies, rho: rho, computedAt: time.Now()}

	t.matrixMu.Lock()
	t.matrix = m
	t.matrixMu.Unlock()

	t.logger.Debug().Int("strategies", len(strategies)).Msg("Correlation matrix recomputed")
}

// Matrix returns the current matrix snapshot.
func (t *CorrelationTracker) Matrix() *Matrix {
	t.matrixMu.RLock()
	defer t.matrixMu.RUnlock()
	return t.matrix
}

// PortfolioCorrelation summarizes the average off-diagonal correlation,
// weighted by the current allocation weights. Returns 0 when fewer than
// two strategies carry observations.
func (t *CorrelationTracker) PortfolioCorrelation(weights map[string]float64) float64 {
	m := t.Matrix()
	if m == nil || len(m.strategies) < 2 {
		return 0
	}

	var weighted, totalWeight float64
	for i, a := range m.strategies {
		for _, b := range m.strategies[i+1:] {
			w := weights[a] * weights[b]
			weighted += w * m.rho[a][b]
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// pearson computes the Pearson correlation over the trailing overlap of
// two sample buffers. Returns 0 when either series is too short or has
// zero variance.
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}

	c := cov / math.Sqrt(varA*varB)
	// Numerical drift can push the ratio slightly outside [-1, 1].
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	return c
}
