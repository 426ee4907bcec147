package domain

// TradingParams are the knobs the autotuner owns. The decision engine and
// risk gate read them each cycle; only the tuner (or the operator via config)
// changes them.
type TradingParams struct {
	MinEdgeBps    float64 `json:"min_edge_bps"`    // minimum effective edge to act
	BufferBps     float64 `json:"buffer_bps"`      // uncertainty buffer subtracted from raw edge
	PersistCycles int     `json:"persist_cycles"`  // edge must clear the minimum this many times
}

// DefaultTradingParams are the shipped champion values.
func DefaultTradingParams() TradingParams {
	return TradingParams{
		MinEdgeBps:    350,
		BufferBps:     150,
		PersistCycles: 2,
	}
}
