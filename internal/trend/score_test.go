package trend

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
)

func day(n int) time.Time {
	return time.Date(2024, 3, n, 0, 0, 0, 0, time.UTC)
}

func TestGrowthRate(t *testing.T) {
	tests := []struct {
		name     string
		old, new float64
		want     float64
	}{
		{"zero to positive", 0, 5, 100.0},
		{"zero to zero", 0, 0, 0.0},
		{"doubling", 10, 20, 100.0},
		{"halving", 10, 5, -50.0},
		{"flat", 7, 7, 0.0},
		{"drop to zero", 4, 0, -100.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GrowthRate(tt.old, tt.new); got != tt.want {
				t.Fatalf("GrowthRate(%v, %v) = %v, want %v", tt.old, tt.new, got, tt.want)
			}
		})
	}
}

func TestGrowthRateMatchesFormulaForPositiveBase(t *testing.T) {
	for old := 1; old <= 50; old += 7 {
		for n := 0; n <= 60; n += 11 {
			want := (float64(n) - float64(old)) / float64(old) * 100
			if got := GrowthRate(float64(old), float64(n)); got != want {
				t.Fatalf("GrowthRate(%d, %d) = %v, want %v", old, n, got, want)
			}
		}
	}
}

func TestPriceMomentum(t *testing.T) {
	if got := PriceMomentum([]float64{10}); got != 0 {
		t.Fatalf("single price momentum = %v", got)
	}
	if got := PriceMomentum([]float64{0, 10, 0}); got != 0 {
		t.Fatalf("one known price momentum = %v", got)
	}
	if got := PriceMomentum([]float64{10, 0, 11}); math.Abs(got-10) > 1e-9 {
		t.Fatalf("momentum = %v, want 10", got)
	}
	if got := PriceMomentum([]float64{10, 35}); got != 100 {
		t.Fatalf("momentum should clamp to 100, got %v", got)
	}
}

func TestCompositeWeights(t *testing.T) {
	if got := Round2(Composite(20, 10, 5)); got != 13.0 {
		t.Fatalf("Composite(20, 10, 5) = %v, want 13.0", got)
	}
	if got := Round2(Composite(25, 15, 5)); got != 17.0 {
		t.Fatalf("Composite(25, 15, 5) = %v, want 17.0", got)
	}
	if got := Composite(-50, -50, 0); got != -40 {
		t.Fatalf("negative growth is kept, got %v", got)
	}
}

func TestComputeZeroBaseViews(t *testing.T) {
	res, err := Compute(day(10), []Snapshot{
		{Date: day(9), Views: 0, Watches: 2, Price: 10},
		{Date: day(10), Views: 5, Watches: 2, Price: 10},
	})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.ViewGrowth != 100.0 || res.WatchGrowth != 0 {
		t.Fatalf("unexpected growth %+v", res)
	}
	if res.Score != 40.0 {
		t.Fatalf("score = %v, want 40", res.Score)
	}
}

func TestComputeWindowAverages(t *testing.T) {
	snaps := []Snapshot{
		{Date: day(1), Views: 1000, Watches: 1000, Price: 1}, // outside the window
		{Date: day(4), Views: 10, Watches: 2, Price: 20},
		{Date: day(9), Views: 20, Watches: 4, Price: 0},
		{Date: day(10).Add(15 * time.Hour), Views: 30, Watches: 6, Price: 22},
	}
	res, err := Compute(day(10), snaps)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.View7DayAvg != 20 || res.Watch7DayAvg != 4 {
		t.Fatalf("averages %+v", res)
	}
	if res.ViewGrowth != 50 || res.WatchGrowth != 50 || res.PriceMomentum != 10 {
		t.Fatalf("signals %+v", res)
	}
	if res.Score != 42 {
		t.Fatalf("score = %v, want 42", res.Score)
	}
}

func TestComputeMissingDays(t *testing.T) {
	if _, err := Compute(day(10), []Snapshot{{Date: day(9), Views: 1}}); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
	if _, err := Compute(day(10), []Snapshot{{Date: day(8), Views: 1}, {Date: day(10), Views: 1}}); !errors.Is(err, ErrNoPriorSnapshot) {
		t.Fatalf("expected ErrNoPriorSnapshot, got %v", err)
	}
}

func TestRankIsGapFreeWithDeterministicTies(t *testing.T) {
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.MustParse("00000000-0000-0000-0000-00000000000" + string(rune('1'+i)))
	}
	entries := []Entry{
		{ListingID: ids[3], Score: 10},
		{ListingID: ids[0], Score: 5},
		{ListingID: ids[4], Score: 10},
		{ListingID: ids[1], Score: 10},
		{ListingID: ids[2], Score: -3},
	}

	ranked := Rank(entries, 2)
	wantOrder := []uuid.UUID{ids[1], ids[3], ids[4], ids[0], ids[2]}
	for i, r := range ranked {
		if r.Rank != i+1 {
			t.Fatalf("position %d has rank %d", i, r.Rank)
		}
		if r.ListingID != wantOrder[i] {
			t.Fatalf("position %d is %s, want %s", i, r.ListingID, wantOrder[i])
		}
		if r.Trending != (i < 2) {
			t.Fatalf("position %d trending=%v", i, r.Trending)
		}
	}

	again := Rank([]Entry{entries[4], entries[3], entries[2], entries[1], entries[0]}, 2)
	for i := range again {
		if again[i].ListingID != ranked[i].ListingID {
			t.Fatal("ranking depends on input order")
		}
	}
}
