// Package trend holds the pure scoring math: growth rates, moving averages,
// price momentum, the composite score and the daily ranking.
package trend

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/models"
)

const (
	ViewWeight     = 0.4
	WatchWeight    = 0.4
	MomentumWeight = 0.2

	// WindowDays is the length of the moving average window, D-6..D.
	WindowDays = 7

	momentumBound = 100.0
)

var (
	ErrNoSnapshot      = errors.New("no snapshot for the scoring date")
	ErrNoPriorSnapshot = errors.New("no snapshot for the day before the scoring date")
)

// Snapshot is the part of a daily metric row the scorer reads.
type Snapshot struct {
	Date    time.Time
	Views   int
	Watches int
	Price   float64
}

// Result is the computed score of one listing for one day.
type Result struct {
	ViewGrowth    float64
	WatchGrowth   float64
	View7DayAvg   float64
	Watch7DayAvg  float64
	PriceMomentum float64
	Score         float64
}

// GrowthRate is the percentage change from old to new. A move off zero
// counts as 100% growth.
func GrowthRate(old, new float64) float64 {
	if old == 0 {
		if new > 0 {
			return 100.0
		}
		return 0.0
	}
	return (new - old) / old * 100
}

// MovingAverage returns the mean of values, 0 for none.
func MovingAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PriceMomentum is the growth from the first to the last known price in
// chronological order, clamped to [-100, 100]. Zero prices are unknown.
func PriceMomentum(prices []float64) float64 {
	known := make([]float64, 0, len(prices))
	for _, p := range prices {
		if p > 0 {
			known = append(known, p)
		}
	}
	if len(known) < 2 {
		return 0
	}
	m := GrowthRate(known[0], known[len(known)-1])
	return math.Max(-momentumBound, math.Min(momentumBound, m))
}

// Composite weighs the three signals into one score.
func Composite(viewGrowth, watchGrowth, momentum float64) float64 {
	return viewGrowth*ViewWeight + watchGrowth*WatchWeight + momentum*MomentumWeight
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Compute scores day from the listing's snapshots. window may hold any
// snapshots; only those in [day-6, day] are used.
func Compute(day time.Time, window []Snapshot) (Result, error) {
	day = models.Day(day)
	from := day.AddDate(0, 0, -(WindowDays - 1))

	inWindow := make([]Snapshot, 0, WindowDays)
	for _, s := range window {
		d := models.Day(s.Date)
		if d.Before(from) || d.After(day) {
			continue
		}
		s.Date = d
		inWindow = append(inWindow, s)
	}
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Date.Before(inWindow[j].Date) })

	var today, prior *Snapshot
	dayKey, priorKey := models.DayKey(day), models.DayKey(day.AddDate(0, 0, -1))
	for i := range inWindow {
		switch models.DayKey(inWindow[i].Date) {
		case dayKey:
			today = &inWindow[i]
		case priorKey:
			prior = &inWindow[i]
		}
	}
	if today == nil {
		return Result{}, ErrNoSnapshot
	}
	if prior == nil {
		return Result{}, ErrNoPriorSnapshot
	}

	views := make([]float64, len(inWindow))
	watches := make([]float64, len(inWindow))
	prices := make([]float64, len(inWindow))
	for i, s := range inWindow {
		views[i] = float64(s.Views)
		watches[i] = float64(s.Watches)
		prices[i] = s.Price
	}

	r := Result{
		ViewGrowth:    GrowthRate(float64(prior.Views), float64(today.Views)),
		WatchGrowth:   GrowthRate(float64(prior.Watches), float64(today.Watches)),
		View7DayAvg:   MovingAverage(views),
		Watch7DayAvg:  MovingAverage(watches),
		PriceMomentum: PriceMomentum(prices),
	}
	r.Score = Composite(r.ViewGrowth, r.WatchGrowth, r.PriceMomentum)
	return r.rounded(), nil
}

func (r Result) rounded() Result {
	return Result{
		ViewGrowth:    Round2(r.ViewGrowth),
		WatchGrowth:   Round2(r.WatchGrowth),
		View7DayAvg:   Round2(r.View7DayAvg),
		Watch7DayAvg:  Round2(r.Watch7DayAvg),
		PriceMomentum: Round2(r.PriceMomentum),
		Score:         Round2(r.Score),
	}
}

// Entry is one listing's score as input to ranking.
type Entry struct {
	ListingID uuid.UUID
	Score     float64
}

// Ranked is an entry with its position.
type Ranked struct {
	Entry
	Rank     int
	Trending bool
}

// Rank orders entries by score descending, then listing id ascending, and
// numbers them 1..n with no gaps. The first topN are trending.
func Rank(entries []Entry, topN int) []Ranked {
	out := make([]Ranked, len(entries))
	for i, e := range entries {
		out[i] = Ranked{Entry: e}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ListingID.String() < out[j].ListingID.String()
	})
	for i := range out {
		out[i].Rank = i + 1
		out[i].Trending = i < topN
	}
	return out
}
