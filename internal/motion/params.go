package motion

import "time"

// Params holds the timing and safety bounds of both algorithms.
type Params struct {
	ReferenceSettle        time.Duration
	ReferencePeriod        time.Duration
	ReferenceMaxIterations int
	ReferenceToleranceMm   int

	WakeDelay           time.Duration
	UpDownPeriod        time.Duration
	UpDownMaxIterations int
	UpDownToleranceMm   int

	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// DefaultParams returns the bounds the desk firmware was tuned with: roughly 60 s of
// reference updates and 50 s of held up/down commands.
func DefaultParams() Params {
	return Params{
		ReferenceSettle:        100 * time.Millisecond,
		ReferencePeriod:        400 * time.Millisecond,
		ReferenceMaxIterations: 150,
		ReferenceToleranceMm:   2,

		WakeDelay:           200 * time.Millisecond,
		UpDownPeriod:        100 * time.Millisecond,
		UpDownMaxIterations: 500,
		UpDownToleranceMm:   5,

		WriteTimeout: time.Second,
		ReadTimeout:  2 * time.Second,
	}
}

func (p Params) tolerance(mode Mode) int {
	if mode == ModeUpDown {
		return p.UpDownToleranceMm
	}
	return p.ReferenceToleranceMm
}
