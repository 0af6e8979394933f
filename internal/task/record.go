package task

import (
	"fmt"
	"math"
	"strings"
)

// FormatClock renders seconds since midnight as HH:MM:SS.
func FormatClock(s float64) string {
	total := int(math.Round(s))
	neg := total < 0
	if neg {
		total = -total
	}
	out := fmt.Sprintf("%02d:%02d:%02d", total/3600%24, total/60%60, total%60)
	if neg {
		return "-" + out
	}
	return out
}

// FormatOptClock renders an optional clock time, dashes when unset.
func FormatOptClock(s *float64) string {
	if s == nil {
		return "--:--:--"
	}
	return FormatClock(*s)
}

// FormatDelay renders a signed delay as +MM:SS / -MM:SS.
func FormatDelay(s float64) string {
	total := int(math.Round(s))
	sign := "+"
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%02d:%02d", sign, total/60, total%60)
}

// FormatRecord renders one stop-log line:
// station, scheduled arrival, actual arrival, scheduled departure, actual departure, delay, status.
func FormatRecord(t *StationStop, status, sep string) string {
	if sep == "" {
		sep = "\t"
	}
	fields := []string{
		t.Station(),
		FormatClock(t.ScheduledArrivalS),
		FormatOptClock(t.ActualArrivalS),
		FormatClock(t.ScheduledDepartureS),
		FormatOptClock(t.ActualDepartureS),
		FormatDelay(t.DelayS()),
		status,
	}
	return strings.Join(fields, sep)
}
