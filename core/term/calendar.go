// Package term computes the school's academic terms.
//
// A calendar year holds three fixed terms:
//
//	Term 1: Jan 1 - Apr 30
//	Term 2: May 1 - Aug 31
//	Term 3: Sep 1 - Dec 31
//
// Boundaries are computed in the location of the reference date.
package term

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Resolution is the precision instants keep once stored (postgres timestamptz).
const Resolution = time.Microsecond

var ErrInvalidDate = errors.New("invalid reference date")

// Term is one academic period. End is the last instant of its closing day at Resolution (inclusive).
// It is stored as is: a finer End would round up to the next term's Start.
type Term struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// Contains reports whether t falls within the term, up to the next term's Start (excluded).
func (trm Term) Contains(t time.Time) bool {
	return !t.Before(trm.Start) && t.Before(trm.End.Add(Resolution))
}

type window struct {
	startMonth time.Month
	endMonth   time.Month // inclusive
}

var windows = [...]window{
	{time.January, time.April},
	{time.May, time.August},
	{time.September, time.December},
}

func (w window) term(year int, number int, loc *time.Location) Term {
	start := time.Date(year, w.startMonth, 1, 0, 0, 0, 0, loc)
	end := time.Date(year, w.endMonth+1, 1, 0, 0, 0, 0, loc).Add(-Resolution)
	return Term{
		Start: start,
		End:   end,
		Label: fmt.Sprintf("Term %d", number),
	}
}

// For returns the term enclosing ref, or Term 1 of the next year when no window of ref's year matches.
func For(ref time.Time) (Term, error) {
	if ref.IsZero() {
		return Term{}, ErrInvalidDate
	}
	loc := ref.Location()
	year := ref.Year()
	for i, w := range windows {
		if trm := w.term(year, i+1, loc); trm.Contains(ref) {
			return trm, nil
		}
	}
	return windows[0].term(year+1, 1, loc), nil
}

// MustFor is For for callers that already validated ref.
func MustFor(ref time.Time) Term {
	trm, err := For(ref)
	if err != nil {
		panic(err)
	}
	return trm
}
