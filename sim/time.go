package sim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VTime is a point on the simulated timeline, counted in picoseconds since the
// start of the run.
type VTime uint64

// Duration is a span of simulated time in picoseconds. It is signed so that a
// negative argument can be rejected rather than silently wrapped around.
type Duration int64

// Units of simulated time.
const (
	PS  Duration = 1
	NS           = 1000 * PS
	US           = 1000 * NS
	MS           = 1000 * US
	Sec          = 1000 * MS
)

type timeUnit struct {
	d      Duration
	suffix string
}

var timeUnits = []timeUnit{
	{Sec, "s"},
	{MS, "ms"},
	{US, "us"},
	{NS, "ns"},
	{PS, "ps"},
}

// Add returns t advanced by d. It panics if d is negative.
func (t VTime) Add(d Duration) VTime {
	if d < 0 {
		panic(fmt.Sprintf("sim: cannot add negative duration %s to %s", d, t))
	}

	return t + VTime(d)
}

// Sub returns the duration t-u.
func (t VTime) Sub(u VTime) Duration {
	return Duration(t) - Duration(u)
}

// Seconds returns t as a floating point number of seconds.
func (t VTime) Seconds() float64 {
	return float64(t) / float64(Sec)
}

// String renders t in the largest unit that represents it exactly, for
// example "2 s" or "10 ns".
func (t VTime) String() string {
	return formatPicoseconds(uint64(t))
}

// String renders d the same way VTime does.
func (d Duration) String() string {
	if d < 0 {
		return "-" + formatPicoseconds(uint64(-d))
	}

	return formatPicoseconds(uint64(d))
}

func formatPicoseconds(v uint64) string {
	if v == 0 {
		return "0 s"
	}

	for _, u := range timeUnits {
		if v%uint64(u.d) == 0 {
			return strconv.FormatUint(v/uint64(u.d), 10) + " " + u.suffix
		}
	}

	return strconv.FormatUint(v, 10) + " ps"
}

// ParseDuration parses strings such as "10ns", "2 s" or "1.5us". A bare "0"
// is accepted without a unit.
func ParseDuration(s string) (Duration, error) {
	str := strings.TrimSpace(s)
	if str == "" {
		return 0, fmt.Errorf("sim: invalid duration %q", s)
	}

	i := 0
	for i < len(str) && strings.ContainsRune("0123456789.+-", rune(str[i])) {
		i++
	}

	num, suffix := str[:i], strings.TrimSpace(str[i:])
	if num == "" {
		return 0, fmt.Errorf("sim: invalid duration %q", s)
	}

	if suffix == "" {
		if v, err := strconv.ParseFloat(num, 64); err == nil && v == 0 {
			return 0, nil
		}

		return 0, fmt.Errorf("sim: missing unit in duration %q", s)
	}

	unit, ok := lookupUnit(suffix)
	if !ok {
		return 0, fmt.Errorf("sim: unknown unit %q in duration %q", suffix, s)
	}

	var d Duration
	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("sim: invalid duration %q: %w", s, err)
		}

		scaled := f * float64(unit)
		rounded := math.Round(scaled)
		if math.Abs(scaled-rounded) > 1e-6 {
			return 0, fmt.Errorf("sim: duration %q is finer than 1 ps", s)
		}

		d = Duration(rounded)
	} else {
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sim: invalid duration %q: %w", s, err)
		}

		d = Duration(n) * unit
	}

	if d < 0 {
		return 0, fmt.Errorf("%w: %q", ErrNegativeDuration, s)
	}

	return d, nil
}

func lookupUnit(suffix string) (Duration, bool) {
	for _, u := range timeUnits {
		if u.suffix == suffix {
			return u.d, true
		}
	}

	if suffix == "sec" {
		return Sec, true
	}

	return 0, false
}
