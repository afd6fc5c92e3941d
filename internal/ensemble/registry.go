package ensemble

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/models"
)

// SignalSource is the fixed capability interface every strategy implements.
// Strategies are interchangeable implementers behind this interface; the
// engine never inspects their internals.
type SignalSource interface {
	StrategyID() string
	EmitSignal(ctx context.Context) (models.StrategySignal, error)
}

// Registry holds the registered strategy set and collects one signal per
// strategy per cycle. A strategy that errors or emits a malformed signal
// is treated as an implicit abstain, not a cycle failure.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SignalSource
	logger  zerolog.Logger
}

// NewRegistry creates an empty strategy registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		sources: make(map[string]SignalSource),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds a strategy. Re-registering an ID replaces the previous
// source.
func (r *Registry) Register(source SignalSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.StrategyID()] = source
}

// Unregister removes a strategy by ID.
func (r *Registry) Unregister(strategyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, strategyID)
}

// StrategyIDs returns the registered strategy IDs in sorted order.
func (r *Registry) StrategyIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Collect gathers the cycle's signals, one attempt per registered
// strategy, in sorted ID order. Failures and malformed signals are logged
// and skipped.
func (r *Registry) Collect(ctx context.Context) []models.StrategySignal {
	r.mu.RLock()
	sources := make([]SignalSource, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}
	r.mu.RUnlock()

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].StrategyID() < sources[j].StrategyID()
	})

	signals := make([]models.StrategySignal, 0, len(sources))
	for _, source := range sources {
		signal, err := source.EmitSignal(ctx)
		if err != nil {
			r.logger.Debug().
				Str("strategy", source.StrategyID()).
				Err(err).
				Msg("Strategy abstained")
			continue
		}
		if !signal.Valid() {
			r.logger.Warn().
				Str("strategy", source.StrategyID()).
				Str("action", string(signal.Action)).
				Float64("confidence", signal.Confidence).
				Msg("Dropping malformed signal")
			continue
		}
		signals = append(signals, signal)
	}
	return signals
}
