package probe

import "time"

const (
	DefaultInitialDelay = 62500 * time.Microsecond
	DefaultMaxDelay     = 4 * time.Second
	DefaultFactor       = 2.0

	maxSteps = 64
)

// Schedule is a bounded exponential backoff: Initial, Initial*Factor, ...
// up to and including Max. The probe gives up once every delay has elapsed.
type Schedule struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
	Factor  float64       `mapstructure:"factor"`
}

func DefaultSchedule() Schedule {
	return Schedule{Initial: DefaultInitialDelay, Max: DefaultMaxDelay, Factor: DefaultFactor}
}

// Delays expands the schedule. The default yields 62.5ms, 125ms, 250ms,
// 500ms, 1s, 2s, 4s.
func (s Schedule) Delays() []time.Duration {
	if s.Initial <= 0 {
		s.Initial = DefaultInitialDelay
	}
	if s.Max < s.Initial {
		s.Max = s.Initial
	}
	if s.Factor < 1 {
		s.Factor = DefaultFactor
	}
	var out []time.Duration
	d := s.Initial
	for d < s.Max && len(out) < maxSteps-1 {
		out = append(out, d)
		d = time.Duration(float64(d) * s.Factor)
	}
	return append(out, s.Max)
}

// Total is the sum of all delays, the worst-case probe duration excluding
// health check time.
func (s Schedule) Total() time.Duration {
	var t time.Duration
	for _, d := range s.Delays() {
		t += d
	}
	return t
}
