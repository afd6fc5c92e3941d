package marketdata

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble-trader/internal/models"
)

func TestRollingWindow(t *testing.T) {
	w := NewRollingWindow(3)
	assert.Equal(t, 0.0, w.Mean())
	assert.Equal(t, 0.0, w.StdDev())

	for _, v := range []float64{1, 2, 3, 4} {
		w.Add(v)
	}
	// Capacity 3 keeps 2, 3, 4.
	assert.Equal(t, 3, w.Len())
	assert.InDelta(t, 3.0, w.Mean(), 1e-9)
	assert.Equal(t, 4.0, w.Last())
	assert.InDelta(t, 1.0, w.StdDev(), 1e-9)
}

func TestSymbolStats_VolumeSpike(t *testing.T) {
	s := NewSymbolStats(60, time.Hour)
	assert.Equal(t, 1.0, s.VolumeSpike(), "insufficient history defaults to 1")

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.Observe(models.Tick{Symbol: "BTC-USD", Price: 100, Volume: 1, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	s.Observe(models.Tick{Symbol: "BTC-USD", Price: 100, Volume: 12, Timestamp: base.Add(11 * time.Second)})

	// mean = 22/11 = 2, last = 12.
	assert.InDelta(t, 6.0, s.VolumeSpike(), 1e-9)
}

func TestSymbolStats_PriceChange(t *testing.T) {
	s := NewSymbolStats(60, time.Hour)
	assert.Equal(t, 0.0, s.PriceChange(5*time.Minute))

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s.Observe(models.Tick{Symbol: "BTC-USD", Price: 100, Volume: 1, Timestamp: base})
	s.Observe(models.Tick{Symbol: "BTC-USD", Price: 102, Volume: 1, Timestamp: base.Add(time.Minute)})
	s.Observe(models.Tick{Symbol: "BTC-USD", Price: 97, Volume: 1, Timestamp: base.Add(2 * time.Minute)})

	assert.InDelta(t, -0.03, s.PriceChange(5*time.Minute), 1e-9)
	// A tight lookback measures from the later reference price.
	assert.InDelta(t, (97.0-102.0)/102.0, s.PriceChange(time.Minute), 1e-9)
}

func TestSymbolStats_DropsMalformedTicks(t *testing.T) {
	s := NewSymbolStats(60, time.Hour)

	s.Observe(models.Tick{Symbol: "BTC-USD", Price: -1, Volume: 1, Timestamp: time.Now()})
	assert.Equal(t, 0.0, s.LastPrice())
}

func TestReplayFeed(t *testing.T) {
	f := NewReplayFeed()

	_, err := f.Snapshot(context.Background(), "BTC-USD")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	f.SetSnapshot(models.MarketSnapshot{Symbol: "BTC-USD", MidPrice: 50000})
	snap, err := f.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, snap.MidPrice)

	f.AddTicks("BTC-USD",
		models.Tick{Symbol: "BTC-USD", Price: 50000, Volume: 1},
		models.Tick{Symbol: "BTC-USD", Price: 50010, Volume: 2},
	)

	ch, err := f.Ticks(context.Background(), "BTC-USD")
	require.NoError(t, err)

	var prices []float64
	for tick := range ch {
		prices = append(prices, tick.Price)
	}
	assert.Equal(t, []float64{50000, 50010}, prices)
}

func TestSyntheticFeed_Deterministic(t *testing.T) {
	a := NewSyntheticFeed("BTC-USD", 50000, 0.02, 1_000_000, time.Millisecond, 7)
	b := NewSyntheticFeed("BTC-USD", 50000, 0.02, 1_000_000, time.Millisecond, 7)

	ta := a.step()
	tb := b.step()
	assert.Equal(t, ta.Price, tb.Price)
	assert.Equal(t, ta.Volume, tb.Volume)
	assert.Greater(t, ta.Price, 0.0)
}

func TestSyntheticFeed_SnapshotCarriesDepth(t *testing.T) {
	f := NewSyntheticFeed("BTC-USD", 50000, 0.02, 1_000_000, time.Millisecond, 7)

	snapshot, err := f.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	require.Len(t, snapshot.Depth, 10)

	var total float64
	prev := snapshot.MidPrice
	for _, level := range snapshot.Depth {
		assert.Greater(t, level.Price, prev, "levels walk away from the mid")
		assert.Greater(t, level.Size, 0.0)
		prev = level.Price
		total += level.Size
	}
	// The book holds the configured fraction of daily volume.
	assert.InDelta(t, 1_000_000*0.02, total, 1e-6)
}

func TestSyntheticFeed_SnapshotDoesNotPerturbWalk(t *testing.T) {
	a := NewSyntheticFeed("BTC-USD", 50000, 0.02, 1_000_000, time.Millisecond, 7)
	b := NewSyntheticFeed("BTC-USD", 50000, 0.02, 1_000_000, time.Millisecond, 7)

	// Depth draws come from a separate source, so snapshot calls leave
	// the tick stream unchanged.
	_, err := a.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	_, err = a.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)

	assert.Equal(t, b.step().Price, a.step().Price)
}

func TestGenerateDepth_Degenerate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Nil(t, GenerateDepth(0, 1_000_000, 0.02, 10, rng))
	assert.Nil(t, GenerateDepth(50000, 1_000_000, 0.02, 0, rng))
}

func TestSyntheticFeed_UnknownSymbol(t *testing.T) {
	f := NewSyntheticFeed("BTC-USD", 50000, 0.02, 1_000_000, time.Millisecond, 7)

	_, err := f.Snapshot(context.Background(), "ETH-USD")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = f.Ticks(context.Background(), "ETH-USD")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
