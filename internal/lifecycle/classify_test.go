package lifecycle

import (
	"math"
	"testing"
	"time"

	"github.com/abelbrown/econpulse/internal/store"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// hist builds hourly samples ending an hour before now.
func hist(counts ...int) []store.HistoryRecord {
	out := make([]store.HistoryRecord, len(counts))
	for i, c := range counts {
		out[i] = store.HistoryRecord{
			IssueID:      1,
			ArticleCount: c,
			RecordedAt:   now.Add(-time.Duration(len(counts)-i) * time.Hour),
		}
	}
	return out
}

func prev(stage Stage, changedAt time.Time) *store.Lifecycle {
	return &store.Lifecycle{IssueID: 1, Stage: string(stage), StageChangedAt: changedAt}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		current    int
		history    []store.HistoryRecord
		previous   *store.Lifecycle
		wantStage  Stage
		wantChange int
		wantPeak   int
	}{
		{"cold start no history", 12, nil, nil, Emerging, 0, 12},
		{"cold start two samples", 1, hist(50, 40), nil, Emerging, 0, 1},
		{"floor below three", 2, hist(10, 10, 10), nil, Dormant, -80, 10},
		{"flat at peak", 10, hist(10, 10, 10), nil, Peak, 0, 10},
		{"climbing near peak", 19, hist(10, 15, 20), prev(Spreading, now), Spreading, -5, 20},
		{"climbing near peak holds peak", 19, hist(10, 15, 20), prev(Peak, now), Peak, -5, 20},
		{"new high while climbing", 30, hist(10, 15, 20), nil, Spreading, 0, 30},
		{"moderate drop", 16, hist(10, 20, 15), nil, Declining, -20, 20},
		{"rebound", 15, hist(5, 20, 10), nil, Spreading, -25, 20},
		{"deep drop", 8, hist(20, 10, 8), nil, Declining, -60, 20},
		{"collapse", 5, hist(20, 10, 5), nil, Dormant, -75, 20},
		{"half percent above dormant edge truncates", 59, hist(100, 200, 120), nil, Declining, -70, 200},
		{"half percent inside near-peak band truncates", 189, hist(100, 200, 120), nil, Spreading, -5, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Input{IssueID: 1, Current: tt.current, History: tt.history, Previous: tt.previous, Now: now})
			if got.Stage != tt.wantStage {
				t.Errorf("stage = %s, want %s (trend %.3f)", got.Stage, tt.wantStage, got.Trend)
			}
			if got.ChangePercent != tt.wantChange {
				t.Errorf("changePercent = %d, want %d", got.ChangePercent, tt.wantChange)
			}
			if got.PeakArticleCount != tt.wantPeak {
				t.Errorf("peak = %d, want %d", got.PeakArticleCount, tt.wantPeak)
			}
			if got.ChangePercent > 0 {
				t.Errorf("changePercent must never be positive, got %d", got.ChangePercent)
			}
			if got.CurrentArticleCount != tt.current {
				t.Errorf("current = %d, want %d", got.CurrentArticleCount, tt.current)
			}
		})
	}
}

func TestClassifyColdStartAlwaysEmerging(t *testing.T) {
	for n := 0; n < MinHistory; n++ {
		for _, current := range []int{0, 1, 3, 50} {
			h := make([]int, n)
			for i := range h {
				h[i] = 100
			}
			got := Classify(Input{Current: current, History: hist(h...), Now: now})
			if got.Stage != Emerging || got.ChangePercent != 0 || got.PeakDate != nil {
				t.Errorf("history=%d current=%d: got %s change=%d peakDate=%v",
					n, current, got.Stage, got.ChangePercent, got.PeakDate)
			}
		}
	}
}

func TestClassifyFloorAlwaysDormant(t *testing.T) {
	histories := [][]int{{3, 3, 3}, {100, 50, 1}, {0, 1, 2}, {1, 2, 2, 2, 2}}
	for _, h := range histories {
		for current := 0; current < MinArticles; current++ {
			for _, p := range []*store.Lifecycle{nil, prev(Peak, now), prev(Spreading, now)} {
				got := Classify(Input{Current: current, History: hist(h...), Previous: p, Now: now})
				if got.Stage != Dormant {
					t.Errorf("history=%v current=%d: got %s, want DORMANT", h, current, got.Stage)
				}
			}
		}
	}
}

func TestClassifyPeakDate(t *testing.T) {
	h := hist(10, 30, 30, 12)
	got := Classify(Input{Current: 12, History: h, Now: now})
	if got.PeakDate == nil || !got.PeakDate.Equal(h[1].RecordedAt) {
		t.Errorf("peak date should be the first peak sample, got %v", got.PeakDate)
	}

	got = Classify(Input{Current: 30, History: h, Now: now})
	if got.PeakDate == nil || !got.PeakDate.Equal(now) {
		t.Errorf("peak date should be now when current ties the peak, got %v", got.PeakDate)
	}
}

func TestClassifyStageChangedAt(t *testing.T) {
	earlier := now.Add(-6 * time.Hour)

	same := Classify(Input{Current: 10, History: hist(10, 10, 10), Previous: prev(Peak, earlier), Now: now})
	if !same.StageChangedAt.Equal(earlier) {
		t.Errorf("unchanged stage must keep stageChangedAt, got %v", same.StageChangedAt)
	}

	changed := Classify(Input{Current: 10, History: hist(10, 10, 10), Previous: prev(Spreading, earlier), Now: now})
	if !changed.StageChangedAt.Equal(now) {
		t.Errorf("changed stage must reset stageChangedAt, got %v", changed.StageChangedAt)
	}

	first := Classify(Input{Current: 10, Now: now})
	if !first.StageChangedAt.Equal(now) {
		t.Errorf("first evaluation should start the clock now, got %v", first.StageChangedAt)
	}
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name    string
		history []store.HistoryRecord
		current int
		want    float64
	}{
		{"empty", nil, 10, 0},
		{"all zero", hist(0, 0, 0), 0, 0},
		{"flat", hist(5, 5, 5), 5, 0},
		{"rising", hist(10, 15, 20), 19, 0.1875},
		{"only last three count", hist(1000, 10, 15, 20), 19, 0.1875},
		{"single sample", hist(10), 20, 10.0 / 15.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trend(tt.history, tt.current)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Trend = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestStageFor(t *testing.T) {
	tests := []struct {
		name    string
		current int
		peak    int
		change  int
		trend   float64
		prev    Stage
		want    Stage
	}{
		{"floor", 2, 50, -96, 1, Peak, Dormant},
		{"weak peak", 3, 2, 0, 0, "", Emerging},
		{"near peak rising", 10, 10, 0, 0.2, Emerging, Spreading},
		{"near peak rising after peak", 10, 10, 0, 0.2, Peak, Peak},
		{"near peak falling", 10, 10, -5, -0.2, Peak, Declining},
		{"near peak steady", 10, 10, -4, 0.05, Spreading, Peak},
		{"band rebound", 8, 10, -20, 0.16, Declining, Spreading},
		{"band rebound boundary", 8, 10, -20, 0.15, Declining, Declining},
		{"band falling", 8, 10, -30, 0, Peak, Declining},
		{"deep", 4, 10, -70, 0.9, Spreading, Declining},
		{"collapse", 3, 10, -71, 0.9, Spreading, Dormant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stageFor(tt.current, tt.peak, tt.change, tt.trend, tt.prev); got != tt.want {
				t.Errorf("stageFor = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStageInfo(t *testing.T) {
	for _, s := range Stages {
		info := s.Info()
		if info.Emoji == "" || info.Label == "" || info.Description == "" {
			t.Errorf("stage %s missing metadata", s)
		}
		parsed, err := ParseStage(string(s))
		if err != nil || parsed != s {
			t.Errorf("ParseStage(%s) = %s, %v", s, parsed, err)
		}
	}
	if _, err := ParseStage("BOOMING"); err == nil {
		t.Error("expected error for unknown stage")
	}
}
