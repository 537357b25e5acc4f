package domain

import "time"

const (
	MinutesPerDay     = 24 * 60
	SpreadCellMinutes = 15
	SpreadCells       = MinutesPerDay / SpreadCellMinutes
)

// Spread holds the minutes of activity recorded in each quarter hour of a day.
type Spread [SpreadCells]int

func (s Spread) Total() int {
	total := 0
	for _, v := range s {
		total += v
	}
	return total
}

func (s Spread) Add(other Spread) Spread {
	for i := range s {
		s[i] += other[i]
	}
	return s
}

func SpreadCellOf(t time.Time) int {
	return minuteOfDay(t) / SpreadCellMinutes
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// computeSpread credits each activity's whole minutes to the minutes of the day following its
// start minute. A minute covered by several activities is counted once.
func computeSpread(activities []*Activity, loc *time.Location) Spread {
	var covered [MinutesPerDay]bool

	for _, a := range activities {
		first := minuteOfDay(a.StartTime.In(loc))
		last := first + a.DurationMinutes()
		if last > MinutesPerDay {
			last = MinutesPerDay
		}
		for m := first; m < last; m++ {
			covered[m] = true
		}
	}

	var spread Spread
	for m, c := range covered {
		if c {
			spread[m/SpreadCellMinutes]++
		}
	}
	return spread
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekStart returns the Sunday that starts the week containing t.
func WeekStart(t time.Time) time.Time {
	day := StartOfDay(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}
