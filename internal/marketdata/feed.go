// Package marketdata provides the market data feed interface and rolling
// statistics consumed by the liquidation monitor and execution simulator.
package marketdata

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"ensemble-trader/internal/models"
)

// ErrNoSnapshot is returned when a feed has no data for a symbol.
var ErrNoSnapshot = errors.New("no snapshot for symbol")

// Feed is the market data collaborator boundary. Implementations are
// external; the engine only reads.
type Feed interface {
	// Snapshot returns the current microstructure view for a symbol.
	Snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error)
	// Ticks returns a channel of streaming ticks for a symbol.
	Ticks(ctx context.Context, symbol string) (<-chan models.Tick, error)
}

// RollingWindow is a fixed-capacity sample buffer with mean/std helpers.
type RollingWindow struct {
	capacity int
	samples  []float64
}

// NewRollingWindow creates a window holding at most capacity samples.
func NewRollingWindow(capacity int) *RollingWindow {
	return &RollingWindow{capacity: capacity}
}

// Add appends a sample, evicting the oldest when full. Non-finite samples
// are dropped.
func (w *RollingWindow) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	w.samples = append(w.samples, v)
	if len(w.samples) > w.capacity {
		w.samples = w.samples[len(w.samples)-w.capacity:]
	}
}

// Len returns the number of held samples.
func (w *RollingWindow) Len() int {
	return len(w.samples)
}

// Mean returns the sample mean, 0 when empty.
func (w *RollingWindow) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

// StdDev returns the sample standard deviation, 0 for fewer than two
// samples.
func (w *RollingWindow) StdDev() float64 {
	n := len(w.samples)
	if n < 2 {
		return 0
	}
	mean := w.Mean()
	var variance float64
	for _, v := range w.samples {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(n-1))
}

// Last returns the most recent sample, 0 when empty.
func (w *RollingWindow) Last() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	return w.samples[len(w.samples)-1]
}

// pricePoint is a timestamped price for lookback queries.
type pricePoint struct {
	price float64
	at    time.Time
}

// SymbolStats maintains streaming statistics for one symbol: trailing
// average volume, realized volatility, and time-windowed price change.
type SymbolStats struct {
	mu      sync.RWMutex
	volumes *RollingWindow
	returns *RollingWindow
	prices  []pricePoint
	maxAge  time.Duration
}

// NewSymbolStats creates stats with the given volume/return window size
// and price history retention.
func NewSymbolStats(window int, maxAge time.Duration) *SymbolStats {
	return &SymbolStats{
		volumes: NewRollingWindow(window),
		returns: NewRollingWindow(window),
		maxAge:  maxAge,
	}
}

// Observe ingests a tick. Ticks with non-positive price or non-finite
// fields are dropped at the boundary.
func (s *SymbolStats) Observe(tick models.Tick) {
	if tick.Price <= 0 || math.IsNaN(tick.Price) || math.IsNaN(tick.Volume) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if last := s.lastPriceLocked(); last > 0 {
		s.returns.Add((tick.Price - last) / last)
	}
	s.volumes.Add(tick.Volume)
	s.prices = append(s.prices, pricePoint{price: tick.Price, at: tick.Timestamp})

	// Evict history beyond the retention horizon.
	cutoff := tick.Timestamp.Add(-s.maxAge)
	i := 0
	for i < len(s.prices)-1 && s.prices[i].at.Before(cutoff) {
		i++
	}
	s.prices = s.prices[i:]
}

func (s *SymbolStats) lastPriceLocked() float64 {
	if len(s.prices) == 0 {
		return 0
	}
	return s.prices[len(s.prices)-1].price
}

// LastPrice returns the most recent observed price.
func (s *SymbolStats) LastPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPriceLocked()
}

// VolumeSpike returns the ratio of the latest volume to the trailing
// average volume, 1 when not enough history exists.
func (s *SymbolStats) VolumeSpike() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	avg := s.volumes.Mean()
	if avg == 0 || s.volumes.Len() < 2 {
		return 1
	}
	return s.volumes.Last() / avg
}

// PriceChange returns the fractional price change over the given lookback
// ending at the most recent tick, 0 when history is insufficient.
func (s *SymbolStats) PriceChange(lookback time.Duration) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.prices) < 2 {
		return 0
	}
	latest := s.prices[len(s.prices)-1]
	cutoff := latest.at.Add(-lookback)

	// Oldest sample at or after the cutoff is the reference price.
	ref := s.prices[0]
	for _, p := range s.prices {
		if !p.at.Before(cutoff) {
			ref = p
			break
		}
	}
	if ref.price == 0 || ref.at.Equal(latest.at) {
		return 0
	}
	return (latest.price - ref.price) / ref.price
}

// Volatility returns the realized volatility of tick-to-tick returns.
func (s *SymbolStats) Volatility() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.returns.StdDev()
}

// ReplayFeed is an in-memory Feed used by tests and paper runs: snapshots
// and ticks are preloaded and served verbatim.
type ReplayFeed struct {
	mu        sync.Mutex
	snapshots map[string]models.MarketSnapshot
	ticks     map[string][]models.Tick
}

// NewReplayFeed creates an empty replay feed.
func NewReplayFeed() *ReplayFeed {
	return &ReplayFeed{
		snapshots: make(map[string]models.MarketSnapshot),
		ticks:     make(map[string][]models.Tick),
	}
}

// SetSnapshot sets the snapshot served for a symbol.
func (f *ReplayFeed) SetSnapshot(snapshot models.MarketSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[snapshot.Symbol] = snapshot
}

// AddTicks appends ticks to a symbol's replay stream.
func (f *ReplayFeed) AddTicks(symbol string, ticks ...models.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks[symbol] = append(f.ticks[symbol], ticks...)
}

// Snapshot implements Feed.
func (f *ReplayFeed) Snapshot(_ context.Context, symbol string) (models.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, ok := f.snapshots[symbol]
	if !ok {
		return models.MarketSnapshot{}, ErrNoSnapshot
	}
	return snapshot, nil
}

// Ticks implements Feed. The preloaded ticks are streamed and the channel
// closed.
func (f *ReplayFeed) Ticks(ctx context.Context, symbol string) (<-chan models.Tick, error) {
	f.mu.Lock()
	ticks := f.ticks[symbol]
	f.mu.Unlock()

	out := make(chan models.Tick, len(ticks))
	go func() {
		defer close(out)
		for _, tick := range ticks {
			select {
			case <-ctx.Done():
				return
			case out <- tick:
			}
		}
	}()
	return out, nil
}
