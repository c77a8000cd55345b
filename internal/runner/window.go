package runner

import (
	"fmt"
	"time"
)

// Window is the range of local hours in which cycles may run. Both ends are
// inclusive; a Start after End wraps past midnight.
type Window struct {
	Start    int
	End      int
	Location *time.Location
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	hour := t.In(loc).Hour()
	if w.Start <= w.End {
		return hour >= w.Start && hour <= w.End
	}
	return hour >= w.Start || hour <= w.End
}

func (w Window) String() string {
	name := "UTC"
	if w.Location != nil {
		name = w.Location.String()
	}
	return fmt.Sprintf("%02d:00-%02d:59 %s", w.Start, w.End, name)
}
