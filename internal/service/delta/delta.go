// Package delta turns cumulative counter snapshots into windowed deltas.
package delta

import (
	"sort"
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
)

// Window names.
const (
	WindowToday         = "today"
	WindowLast60Minutes = "last_60_minutes"
	WindowLast48Hours   = "last_48_hours"
)

// Counter names a cumulative counter on a snapshot.
type Counter string

const (
	ViewCount     Counter = "view_count"
	LikeCount     Counter = "like_count"
	CommentCount  Counter = "comment_count"
	FollowerCount Counter = "follower_count"
)

// Counters lists every counter a delta is computed for.
var Counters = []Counter{ViewCount, LikeCount, CommentCount, FollowerCount}

func (c Counter) value(s *models.IntradaySnapshot) int64 {
	switch c {
	case ViewCount:
		return s.ViewCount
	case LikeCount:
		return s.LikeCount
	case CommentCount:
		return s.CommentCount
	case FollowerCount:
		return s.FollowerCount
	default:
		return 0
	}
}

// Window is an inclusive time span [From, To].
type Window struct {
	Name string    `json:"name"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Windows returns the standard windows ending at now. "today" starts at
// local midnight in loc.
func Windows(now time.Time, loc *time.Location) []Window {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	return []Window{
		{Name: WindowToday, From: midnight, To: now},
		{Name: WindowLast60Minutes, From: now.Add(-time.Hour), To: now},
		{Name: WindowLast48Hours, From: now.Add(-48 * time.Hour), To: now},
	}
}

// Earliest returns the earliest window start.
func Earliest(windows []Window) time.Time {
	var earliest time.Time
	for i, w := range windows {
		if i == 0 || w.From.Before(earliest) {
			earliest = w.From
		}
	}
	return earliest
}

// Deltas maps window name to counter to delta.
type Deltas map[string]map[Counter]int64

func newDeltas(windows []Window) Deltas {
	d := make(Deltas, len(windows))
	for _, w := range windows {
		d[w.Name] = make(map[Counter]int64, len(Counters))
		for _, c := range Counters {
			d[w.Name][c] = 0
		}
	}
	return d
}

func (d Deltas) add(other Deltas) {
	for window, counters := range other {
		if d[window] == nil {
			d[window] = make(map[Counter]int64, len(counters))
		}
		for c, v := range counters {
			d[window][c] += v
		}
	}
}

// Rollup is the account view: account-level deltas plus entity deltas
// computed per entity and summed.
type Rollup struct {
	Windows   []Window          `json:"windows"`
	Account   Deltas            `json:"account"`
	Entities  Deltas            `json:"entities"`
	PerEntity map[string]Deltas `json:"perEntity"`
}

// Engine computes deltas. The zero value is ready to use.
type Engine struct{}

// Compute returns, per window and counter, max minus min over the snapshots
// captured inside the window. Fewer than two snapshots yield zero. The result
// never depends on input order and is never negative.
func (Engine) Compute(snapshots []*models.IntradaySnapshot, windows []Window) Deltas {
	out := newDeltas(windows)

	for _, w := range windows {
		for _, c := range Counters {
			var (
				lo, hi int64
				seen   bool
			)
			for _, s := range snapshots {
				if !w.Contains(s.CapturedAt) {
					continue
				}
				v := c.value(s)
				if !seen {
					lo, hi, seen = v, v, true
					continue
				}
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			out[w.Name][c] = hi - lo
		}
	}

	return out
}

// Rollup splits snapshots into the account series and one series per
// entity, computes each independently and sums the entity results.
func (e Engine) Rollup(snapshots []*models.IntradaySnapshot, windows []Window) *Rollup {
	var account []*models.IntradaySnapshot
	byEntity := make(map[string][]*models.IntradaySnapshot)

	for _, s := range snapshots {
		if s.IsAccountLevel() {
			account = append(account, s)
			continue
		}
		byEntity[*s.EntityID] = append(byEntity[*s.EntityID], s)
	}

	ids := make([]string, 0, len(byEntity))
	for id := range byEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r := &Rollup{
		Windows:   windows,
		Account:   e.Compute(account, windows),
		Entities:  newDeltas(windows),
		PerEntity: make(map[string]Deltas, len(byEntity)),
	}
	for _, id := range ids {
		d := e.Compute(byEntity[id], windows)
		r.PerEntity[id] = d
		r.Entities.add(d)
	}

	return r
}
