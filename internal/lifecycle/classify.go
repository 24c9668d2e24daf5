package lifecycle

import (
	"time"

	"github.com/abelbrown/econpulse/internal/store"
)

const (
	// MinArticles is the activity floor: below it an issue is DORMANT, and
	// a peak below it never counts as a real peak.
	MinArticles = 3
	// MinHistory is the number of samples needed before trend analysis.
	MinHistory = 3

	// Change-from-peak bands, in percent.
	nearPeakPercent  = -5
	decliningPercent = -30
	dormantPercent   = -70

	// Trend thresholds.
	risingTrend  = 0.1
	fallingTrend = -0.1
	reboundTrend = 0.15

	// trendWindow is how many trailing history samples feed the trend.
	trendWindow = 3
)

// Input is everything one lifecycle evaluation needs.
type Input struct {
	IssueID int64
	// Current is the issue's article count over the last 24 hours.
	Current int
	// History is the last 7 days of samples, oldest first.
	History []store.HistoryRecord
	// Previous is the stored row, nil on first evaluation.
	Previous *store.Lifecycle
	Now      time.Time
}

// Result is the outcome of Classify, ready to persist.
type Result struct {
	Stage               Stage
	ChangePercent       int
	PeakArticleCount    int
	CurrentArticleCount int
	PeakDate            *time.Time
	StageChangedAt      time.Time
	Trend               float64
}

// Classify computes the next lifecycle state. It is a pure function.
func Classify(in Input) Result {
	res := Result{CurrentArticleCount: in.Current}

	if len(in.History) < MinHistory {
		res.Stage = Emerging
		res.PeakArticleCount = in.Current
	} else {
		peak := in.History[0]
		for _, h := range in.History[1:] {
			if h.ArticleCount > peak.ArticleCount {
				peak = h
			}
		}

		peakDate := peak.RecordedAt
		res.PeakArticleCount = peak.ArticleCount
		if in.Current >= peak.ArticleCount {
			res.PeakArticleCount = in.Current
			peakDate = in.Now
		}

		res.ChangePercent = changePercent(in.Current, res.PeakArticleCount)
		res.Trend = Trend(in.History, in.Current)
		res.Stage = stageFor(in.Current, res.PeakArticleCount, res.ChangePercent, res.Trend, previousStage(in.Previous))

		if res.Stage != Emerging {
			res.PeakDate = &peakDate
		}
	}

	res.StageChangedAt = in.Now
	if in.Previous != nil && Stage(in.Previous.Stage) == res.Stage {
		res.StageChangedAt = in.Previous.StageChangedAt
	}
	return res
}

func previousStage(prev *store.Lifecycle) Stage {
	if prev == nil {
		return ""
	}
	return Stage(prev.Stage)
}

// changePercent is the percentage change of current against peak,
// truncated toward zero. It is never positive because peak >= current.
func changePercent(current, peak int) int {
	if peak <= 0 {
		return 0
	}
	return int(float64(current-peak) / float64(peak) * 100)
}

// Trend is the mean step-to-step change across the last three samples
// plus the current count, divided by the mean count over that window.
// It returns 0 when there is no history or the mean count is 0.
func Trend(history []store.HistoryRecord, current int) float64 {
	if len(history) == 0 {
		return 0
	}
	tail := history
	if len(tail) > trendWindow {
		tail = tail[len(tail)-trendWindow:]
	}

	counts := make([]int, 0, len(tail)+1)
	for _, h := range tail {
		counts = append(counts, h.ArticleCount)
	}
	counts = append(counts, current)

	sumDelta, sum := 0, counts[0]
	for i := 1; i < len(counts); i++ {
		sumDelta += counts[i] - counts[i-1]
		sum += counts[i]
	}
	avgDelta := float64(sumDelta) / float64(len(counts)-1)
	avgCount := float64(sum) / float64(len(counts))
	if avgCount <= 0 {
		return 0
	}
	return avgDelta / avgCount
}

// stageFor applies the transition rules in precedence order.
func stageFor(current, peak, change int, trend float64, prev Stage) Stage {
	switch {
	case current < MinArticles:
		return Dormant
	case peak < MinArticles:
		return Emerging
	case change >= nearPeakPercent:
		switch {
		case trend > risingTrend:
			// Hold PEAK while still climbing so noise can't flip it back.
			if prev == Peak {
				return Peak
			}
			return Spreading
		case trend < fallingTrend:
			return Declining
		default:
			return Peak
		}
	case change >= decliningPercent:
		if trend > reboundTrend {
			return Spreading
		}
		return Declining
	case change >= dormantPercent:
		return Declining
	default:
		return Dormant
	}
}
