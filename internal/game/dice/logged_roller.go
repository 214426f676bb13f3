package dice

import "go.uber.org/zap"

// Roller wraps Roll with debug-level logging of every roll.
//
// A Roller holds no Source; the caller passes the trial's stream on each call,
// so one Roller may be shared by every worker.
type Roller struct {
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that logs each roll to logger.
//
// Precondition: logger may be nil, in which case rolls are not logged.
func NewLoggedRoller(logger *zap.Logger) *Roller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Roller{logger: logger}
}

// Roll draws the dice in hand from pool and logs the result at debug level.
//
// Precondition: pool and src must be non-nil.
// Postcondition: returns the same result as the package-level Roll.
func (r *Roller) Roll(pool *Pool, hand []int, src Source) RollResult {
	result := Roll(pool, hand, src)
	if ce := r.logger.Check(zap.DebugLevel, "dice roll"); ce != nil {
		ce.Write(
			zap.Ints("positions", result.Positions),
			zap.Ints("faces", result.Faces),
		)
	}
	return result
}
