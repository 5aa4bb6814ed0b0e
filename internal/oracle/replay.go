package oracle

import (
	"context"

	"dcapilot/internal/models"
)

// ReplayOracle serves a fixed response script in order, then holds. It makes
// a backtest of a recorded live session byte-for-byte reproducible.
type ReplayOracle struct {
	responses []models.OracleResult
	next      int
}

func NewReplayOracle(responses []models.OracleResult) *ReplayOracle {
	return &ReplayOracle{responses: responses}
}

func (r *ReplayOracle) Name() string { return "replay" }

func (r *ReplayOracle) Evaluate(_ context.Context, _ Context) models.OracleResult {
	if r.next >= len(r.responses) {
		return Fallback()
	}
	res := Sanitize(r.responses[r.next])
	r.next++
	return res
}
