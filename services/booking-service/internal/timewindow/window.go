// Package timewindow implements interval arithmetic over "HH:MM" wall-clock ranges.
//
// A Window carries no date and no zone. "24:00" is accepted as an end value meaning
// end of day (minute 1440). All ranges are half-open: [Start, End).
package timewindow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// MinutesPerDay is the minute value of the "24:00" end-of-day sentinel.
	MinutesPerDay = 24 * 60
	EndOfDay      = "24:00"
)

var (
	ErrInvalidWindow   = errors.New("invalid time window")
	ErrOverlapConflict = errors.New("time windows overlap")
)

type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParseClock converts "HH:MM" to minutes after midnight. Hours 00-23 are accepted, plus "24:00".
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: clock %q must be HH:MM", ErrInvalidWindow, s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: clock %q must be HH:MM", ErrInvalidWindow, s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h == 24 && m == 0 {
		return MinutesPerDay, nil
	}
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("%w: clock %q out of range", ErrInvalidWindow, s)
	}
	return h*60 + m, nil
}

// FormatClock is the inverse of ParseClock. Values are clamped to [0, 1440].
func FormatClock(minutes int) string {
	if minutes <= 0 {
		return "00:00"
	}
	if minutes >= MinutesPerDay {
		return EndOfDay
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Minutes returns the window bounds in minutes after midnight.
func (w Window) Minutes() (start, end int, err error) {
	start, err = ParseClock(w.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err = ParseClock(w.End)
	if err != nil {
		return 0, 0, err
	}
	if start == MinutesPerDay {
		return 0, 0, fmt.Errorf("%w: start cannot be %s", ErrInvalidWindow, EndOfDay)
	}
	return start, end, nil
}

func (w Window) String() string {
	return w.Start + "-" + w.End
}

func FromMinutes(start, end int) Window {
	return Window{Start: FormatClock(start), End: FormatClock(end)}
}

// Overlaps reports whether a and b share any instant under half-open semantics.
// Unparseable windows never overlap anything.
func Overlaps(a, b Window) bool {
	as, ae, err := a.Minutes()
	if err != nil {
		return false
	}
	bs, be, err := b.Minutes()
	if err != nil {
		return false
	}
	return as < be && ae > bs
}

type span struct{ start, end int }

func spans(ws []Window) []span {
	out := make([]span, 0, len(ws))
	for _, w := range ws {
		s, e, err := w.Minutes()
		if err != nil || e <= s {
			continue
		}
		out = append(out, span{s, e})
	}
	return out
}

// Subtract removes every blocker from every window. A window split by a blocker yields up to
// two pieces; pieces with end <= start are dropped. Malformed windows and blockers are ignored.
func Subtract(windows, blockers []Window) []Window {
	bs := spans(blockers)
	var out []Window
	for _, w := range spans(windows) {
		pieces := []span{w}
		for _, b := range bs {
			next := pieces[:0:0]
			for _, p := range pieces {
				if !(p.start < b.end && p.end > b.start) {
					next = append(next, p)
					continue
				}
				if b.start > p.start {
					next = append(next, span{p.start, b.start})
				}
				if b.end < p.end {
					next = append(next, span{b.end, p.end})
				}
			}
			pieces = next
		}
		for _, p := range pieces {
			if p.end > p.start {
				out = append(out, FromMinutes(p.start, p.end))
			}
		}
	}
	return out
}

// Normalize returns a copy sorted by start, then end.
func Normalize(ws []Window) []Window {
	out := append([]Window(nil), ws...)
	sort.SliceStable(out, func(i, j int) bool {
		si, ei, _ := out[i].Minutes()
		sj, ej, _ := out[j].Minutes()
		if si != sj {
			return si < sj
		}
		return ei < ej
	})
	return out
}

// Validate checks formatting, start < end, and pairwise non-overlap. Order does not matter.
func Validate(ws []Window) error {
	for i, w := range ws {
		s, e, err := w.Minutes()
		if err != nil {
			return fmt.Errorf("window[%d]: %w", i, err)
		}
		if e <= s {
			return fmt.Errorf("window[%d] %s: %w: start must be before end", i, w, ErrInvalidWindow)
		}
	}
	sorted := Normalize(ws)
	for i := 1; i < len(sorted); i++ {
		if Overlaps(sorted[i-1], sorted[i]) {
			return fmt.Errorf("%w: %s and %s", ErrOverlapConflict, sorted[i-1], sorted[i])
		}
	}
	return nil
}

// TotalMinutes sums the length of all well-formed windows.
func TotalMinutes(ws []Window) int {
	total := 0
	for _, s := range spans(ws) {
		total += s.end - s.start
	}
	return total
}

// Contains reports whether the range [start, end) lies entirely inside w.
func (w Window) Contains(start, end int) bool {
	ws, we, err := w.Minutes()
	if err != nil {
		return false
	}
	return start >= ws && end <= we && start < end
}
