package execution

import (
	"ensemble-trader/internal/models"
)

// walkDepth fills quantity through the book levels and returns the
// volume-weighted average price plus the filled quantity. A nil book
// fills nothing.
func walkDepth(depth []models.DepthLevel, quantity float64) (vwap, filled float64) {
	if quantity <= 0 {
		return 0, 0
	}

	var notional float64
	for _, level := range depth {
		if filled >= quantity {
			break
		}
		take := quantity - filled
		if take > level.Size {
			take = level.Size
		}
		notional += take * level.Price
		filled += take
	}
	if filled == 0 {
		return 0, 0
	}
	return notional / filled, filled
}
