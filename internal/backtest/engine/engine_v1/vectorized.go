package engine

import (
	"go.uber.org/zap"

	"github.com/rxtech-lab/stocksim/internal/logger"
	"github.com/rxtech-lab/stocksim/internal/policy"
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

// vectorSignals holds whole-table entry/exit tags precomputed by a
// VectorizedPolicy. The state machine then walks the tags instead of calling
// the predicates per bar.
type vectorSignals struct {
	entries []bool
	exits   []bool
}

// precomputeSignals tags the whole bar table up front. A policy whose tagging
// fails, panics or returns slices of the wrong length yields an error and the
// caller falls back to the row-wise walk.
func precomputeSignals(pol policy.VectorizedPolicy, bars types.BarTable, params *types.StrategyParameters) (signals *vectorSignals, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			signals = nil
			err = errors.Newf(errors.ErrCodePolicyValidation, "vectorized tagging panicked: %v", rec)
		}
	}()

	entries, err := pol.EntrySignals(bars, params)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePolicyValidation, "entry tagging failed", err)
	}

	exits, err := pol.ExitSignals(bars, params)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePolicyValidation, "exit tagging failed", err)
	}

	if len(entries) != len(bars) || len(exits) != len(bars) {
		return nil, errors.Newf(errors.ErrCodePolicyValidation,
			"signal length mismatch: %d entries, %d exits for %d bars", len(entries), len(exits), len(bars))
	}

	return &vectorSignals{entries: entries, exits: exits}, nil
}

// attachVectorSignals switches the run to the vectorized walk when the policy
// supports it. Tagging failures are logged and leave the row-wise walk in
// place.
func (r *instrumentRun) attachVectorSignals(log *logger.Logger) {
	if !r.config.PreferVectorized {
		return
	}

	vectorized, ok := r.pol.(policy.VectorizedPolicy)
	if !ok {
		return
	}

	signals, err := precomputeSignals(vectorized, r.bars, r.params)
	if err != nil {
		log.Warn("vectorized tagging unavailable, falling back to row-wise walk",
			zap.String("instrument", r.instrumentID),
			zap.Error(err))

		return
	}

	r.signals = signals
}
