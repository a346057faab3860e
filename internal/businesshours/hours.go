// Package businesshours answers whether an instant falls inside a tenant's
// configured working hours and when the next open instant is.
package businesshours

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// searchDays bounds how far ahead NextOpen looks for an open window
const searchDays = 14

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// DayHours overrides the window of a single weekday
type DayHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

// Hours is the stored business hours configuration of a tenant.
// ByDay entries, keyed by lowercase weekday name, override Days/Start/End.
type Hours struct {
	Days     []string            `json:"days,omitempty"`
	Start    string              `json:"start,omitempty"`
	End      string              `json:"end,omitempty"`
	Timezone string              `json:"timezone,omitempty"`
	ByDay    map[string]DayHours `json:"byDay,omitempty"`
	Enforce  *bool               `json:"enforce,omitempty"` // false means always open
}

// Default returns Monday to Friday, 09:00-17:00, America/New_York
func Default() Hours {
	return Hours{
		Days:     []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		Start:    "09:00",
		End:      "17:00",
		Timezone: "America/New_York",
	}
}

// clone returns a copy of h that shares no slices, maps or pointers with it
func (h Hours) clone() Hours {
	h.Days = slices.Clone(h.Days)
	h.ByDay = maps.Clone(h.ByDay)
	if h.Enforce != nil {
		enforce := *h.Enforce
		h.Enforce = &enforce
	}
	return h
}

type window struct {
	open  bool
	start int // minutes since local midnight
	end   int
}

// Schedule is a compiled Hours bound to a time zone
type Schedule struct {
	loc     *time.Location
	days    [7]window
	enforce bool
}

// New compiles h into a Schedule
func New(h Hours) (*Schedule, error) {
	tz := h.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	s := &Schedule{loc: loc, enforce: h.Enforce == nil || *h.Enforce}

	start, end := h.Start, h.End
	if start == "" {
		start = "09:00"
	}
	if end == "" {
		end = "17:00"
	}
	base, err := newWindow(start, end)
	if err != nil {
		return nil, err
	}

	for _, name := range h.Days {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", name)
		}
		s.days[wd] = base
	}

	for name, dh := range h.ByDay {
		wd, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", name)
		}
		if !dh.Enabled {
			s.days[wd] = window{}
			continue
		}
		ds, de := dh.Start, dh.End
		if ds == "" {
			ds = start
		}
		if de == "" {
			de = end
		}
		w, err := newWindow(ds, de)
		if err != nil {
			return nil, fmt.Errorf("invalid hours for %s: %w", name, err)
		}
		s.days[wd] = w
	}

	return s, nil
}

func newWindow(start, end string) (window, error) {
	sm, err := ParseClock(start)
	if err != nil {
		return window{}, err
	}
	em, err := ParseClock(end)
	if err != nil {
		return window{}, err
	}
	if sm >= em {
		return window{}, fmt.Errorf("start %s must be before end %s", start, end)
	}
	return window{open: true, start: sm, end: em}, nil
}

// ParseClock parses "HH:MM" into minutes since midnight
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: must be HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// IsOpen reports whether t is inside business hours. The end minute is
// inclusive: with End 17:00, 17:00:59 is still open.
func (s *Schedule) IsOpen(t time.Time) bool {
	if !s.enforce {
		return true
	}
	local := t.In(s.loc)
	w := s.days[local.Weekday()]
	if !w.open {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= w.start && minute <= w.end
}

// NextOpen returns t if it is open, otherwise the start of the next open
// window within two weeks. When no window exists, t is returned unchanged.
func (s *Schedule) NextOpen(t time.Time) time.Time {
	if s.IsOpen(t) {
		return t
	}

	local := t.In(s.loc)
	y, m, d := local.Date()
	minute := local.Hour()*60 + local.Minute()

	for offset := 0; offset <= searchDays; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, s.loc)
		w := s.days[day.Weekday()]
		if !w.open {
			continue
		}
		if offset == 0 && minute >= w.start {
			continue // today's window is over
		}
		return time.Date(y, m, d+offset, w.start/60, w.start%60, 0, 0, s.loc)
	}
	return t
}

// NextDayAt returns clock ("HH:MM", local) on the first working day after
// t's local date. Without working days the next calendar day is used.
func (s *Schedule) NextDayAt(t time.Time, clock string) (time.Time, error) {
	minutes, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	local := t.In(s.loc)
	y, m, d := local.Date()
	for offset := 1; offset <= searchDays; offset++ {
		day := time.Date(y, m, d+offset, 0, 0, 0, 0, s.loc)
		if !s.enforce || s.days[day.Weekday()].open {
			return time.Date(y, m, d+offset, minutes/60, minutes%60, 0, 0, s.loc), nil
		}
	}
	return time.Date(y, m, d+1, minutes/60, minutes%60, 0, 0, s.loc), nil
}

// LocalDay returns t's calendar day in the schedule's time zone as YYYY-MM-DD
func (s *Schedule) LocalDay(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// AdjustDelay returns the instant a delay of d starting at from should end,
// moved forward to the next open instant when it would end outside hours
func (s *Schedule) AdjustDelay(from time.Time, d time.Duration) time.Time {
	return s.NextOpen(from.Add(d))
}

// workingDaysPerWeek counts the enabled weekdays
func (s *Schedule) workingDaysPerWeek() int {
	n := 0
	for _, w := range s.days {
		if w.open {
			n++
		}
	}
	return n
}

// EstimateDays estimates the calendar days needed to send total contacts
// at dailyLimit per day, skipping non-working days when respectHours is set
func (s *Schedule) EstimateDays(total, dailyLimit int, respectHours bool) int {
	if total <= 0 {
		return 0
	}
	if dailyLimit <= 0 {
		return 1
	}
	workDays := (total + dailyLimit - 1) / dailyLimit
	perWeek := s.workingDaysPerWeek()
	if !respectHours || !s.enforce || perWeek == 0 || perWeek == 7 {
		return workDays
	}
	weeks := workDays / perWeek
	rest := workDays % perWeek
	days := weeks * 7
	if rest > 0 {
		days += rest
	} else {
		// The last full week ends on a working day, not on the weekend after it
		days -= 7 - perWeek
	}
	return days
}
