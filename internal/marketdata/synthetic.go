package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"ensemble-trader/internal/models"
)

// Snapshot depth shape: level count and the share of daily volume resting
// on the book.
const (
	depthLevels       = 10
	depthBookFraction = 0.02
)

// SyntheticFeed generates a geometric random-walk tick stream for paper
// runs. Deterministic for a fixed seed.
type SyntheticFeed struct {
	symbol      string
	interval    time.Duration
	dailyVolume float64

	mu    sync.Mutex
	rng   *rand.Rand
	price float64
	vol   float64
	stats *SymbolStats

	// depthRng is independent of the tick rng so calling Snapshot does
	// not perturb the walk.
	depthRng *rand.Rand
}

// NewSyntheticFeed creates a synthetic feed for one symbol.
func NewSyntheticFeed(symbol string, startPrice, volatility, dailyVolume float64, interval time.Duration, seed int64) *SyntheticFeed {
	return &SyntheticFeed{
		symbol:      symbol,
		interval:    interval,
		dailyVolume: dailyVolume,
		rng:         rand.New(rand.NewSource(seed)),
		price:       startPrice,
		vol:         volatility,
		stats:       NewSymbolStats(120, time.Hour),
		depthRng:    rand.New(rand.NewSource(seed + 1)),
	}
}

// Snapshot implements Feed. Volatility is the realized figure from the
// generated stream once enough ticks exist, the configured figure before.
func (f *SyntheticFeed) Snapshot(_ context.Context, symbol string) (models.MarketSnapshot, error) {
	if symbol != f.symbol {
		return models.MarketSnapshot{}, ErrNoSnapshot
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	vol := f.stats.Volatility()
	if vol == 0 {
		vol = f.vol
	}
	return models.MarketSnapshot{
		Symbol:      f.symbol,
		MidPrice:    f.price,
		Volatility:  vol,
		DailyVolume: f.dailyVolume,
		Depth:       GenerateDepth(f.price, f.dailyVolume, depthBookFraction, depthLevels, f.depthRng),
		Timestamp:   time.Now(),
	}, nil
}

// Ticks implements Feed. The stream runs until ctx is done.
func (f *SyntheticFeed) Ticks(ctx context.Context, symbol string) (<-chan models.Tick, error) {
	if symbol != f.symbol {
		return nil, ErrNoSnapshot
	}

	out := make(chan models.Tick, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick := f.step()
				select {
				case <-ctx.Done():
					return
				case out <- tick:
				}
			}
		}
	}()
	return out, nil
}

// GenerateDepth builds a simulated order-book side for a symbol: level
// sizes decay geometrically away from the mid, scaled so the whole book
// holds roughly the given fraction of daily volume.
func GenerateDepth(mid, dailyVolume, bookFraction float64, levels int, rng *rand.Rand) []models.DepthLevel {
	if levels <= 0 || mid <= 0 {
		return nil
	}

	total := dailyVolume * bookFraction
	depth := make([]models.DepthLevel, 0, levels)
	remaining := total
	for i := 0; i < levels; i++ {
		// Half the remaining size sits on each successive level, with a
		// little noise so books are not perfectly regular.
		size := remaining * 0.5 * (0.9 + 0.2*rng.Float64())
		if i == levels-1 {
			size = remaining
		}
		remaining -= size
		depth = append(depth, models.DepthLevel{
			Price: mid * (1 + float64(i+1)*0.0005),
			Size:  size,
		})
	}
	return depth
}

// step advances the walk by one tick.
func (f *SyntheticFeed) step() models.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Per-tick sigma scaled from the daily volatility figure assuming
	// one-second ticks.
	sigma := f.vol / math.Sqrt(86400/f.interval.Seconds())
	f.price *= math.Exp(sigma * f.rng.NormFloat64())

	// Volume draws are log-normal around the per-tick share of daily
	// volume.
	meanVolume := f.dailyVolume * f.interval.Seconds() / 86400
	volume := meanVolume * math.Exp(0.5*f.rng.NormFloat64())

	tick := models.Tick{
		Symbol:    f.symbol,
		Price:     f.price,
		Volume:    volume,
		Timestamp: time.Now(),
	}
	f.stats.Observe(tick)
	return tick
}

var _ Feed = (*SyntheticFeed)(nil)
