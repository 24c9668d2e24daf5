package ranking

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/abelbrown/econpulse/internal/store"
)

var (
	strongEventKeywords = []string{"급락", "급등", "폭락", "폭등", "돌파", "붕괴", "사상", "최고", "최저"}
	policyKeywords      = []string{"정부", "당국", "개입", "발표", "대책", "회의"}
	timeKeywords        = []string{"오늘", "하루", "단기간", "최근"}

	// numberRe matches a figure with a unit: 3.5%, 1400원, 25bp.
	numberRe = regexp.MustCompile(`\d+(\.\d+)?(%|원|달러|bp|포인트)`)
)

// EventScore rates how event-like an article reads. Sharp-move keywords
// add 3 each; policy and time keywords add 2 each; a figure with a unit
// adds 2; publication within 24h adds 2, within 48h adds 1.
func EventScore(a store.Article, now time.Time) int {
	text := a.Title + " " + a.Summary
	score := 0

	for _, kw := range strongEventKeywords {
		if strings.Contains(text, kw) {
			score += 3
		}
	}
	for _, kw := range policyKeywords {
		if strings.Contains(text, kw) {
			score += 2
		}
	}
	for _, kw := range timeKeywords {
		if strings.Contains(text, kw) {
			score += 2
		}
	}
	if numberRe.MatchString(text) {
		score += 2
	}

	// Whole hours, truncated.
	switch hours := int(now.Sub(a.PublishedAt).Hours()); {
	case hours <= 24:
		score += 2
	case hours <= 48:
		score += 1
	}
	return score
}

// ByEventScore returns a copy of articles ordered by EventScore, highest
// first, ties broken by newer publish time.
func ByEventScore(articles []store.Article, now time.Time) []store.Article {
	type scored struct {
		article store.Article
		score   int
	}
	tmp := make([]scored, len(articles))
	for i, a := range articles {
		tmp[i] = scored{article: a, score: EventScore(a, now)}
	}
	sort.SliceStable(tmp, func(i, j int) bool {
		if tmp[i].score != tmp[j].score {
			return tmp[i].score > tmp[j].score
		}
		return tmp[i].article.PublishedAt.After(tmp[j].article.PublishedAt)
	})

	out := make([]store.Article, len(tmp))
	for i, s := range tmp {
		out[i] = s.article
	}
	return out
}
