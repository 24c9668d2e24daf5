// Package ranking scores issues for the trending list and articles for
// card evidence selection.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/abelbrown/econpulse/internal/store"
)

// Context carries shared scoring inputs.
type Context struct {
	Now time.Time
}

// NewContext returns a Context anchored at the current time.
func NewContext() *Context {
	return &Context{Now: time.Now()}
}

// Ranker scores one issue.
type Ranker interface {
	Name() string
	Score(stat *store.IssueStat, ctx *Context) float64
}

// ArticleCountRanker scores an issue by how many articles it gathered in
// the window.
type ArticleCountRanker struct{}

func (r *ArticleCountRanker) Name() string { return "article_count" }

func (r *ArticleCountRanker) Score(stat *store.IssueStat, ctx *Context) float64 {
	return float64(stat.RecentArticles)
}

// PublisherRanker rewards publisher diversity. A single publisher earns
// nothing; each additional one adds a point.
type PublisherRanker struct{}

func (r *PublisherRanker) Name() string { return "publishers" }

func (r *PublisherRanker) Score(stat *store.IssueStat, ctx *Context) float64 {
	return math.Max(float64(stat.RecentPublishers-1), 0)
}

// RecencyRanker scores by time since the issue's latest article with
// exponential decay: exp(-hours/DecayHours). Just now is 1.0, one
// DecayHours ago about 0.37.
type RecencyRanker struct {
	DecayHours float64
}

func NewRecencyRanker() *RecencyRanker {
	return &RecencyRanker{DecayHours: 6}
}

func (r *RecencyRanker) Name() string { return "recency" }

func (r *RecencyRanker) Score(stat *store.IssueStat, ctx *Context) float64 {
	age := ctx.Now.Sub(stat.LastPublishedAt)
	if age < 0 {
		age = 0 // Future-dated issues treated as brand new
	}
	// Whole minutes, so sub-minute clock skew doesn't move the score.
	hours := math.Floor(age.Minutes()) / 60
	return math.Exp(-hours / r.DecayHours)
}

// ConstantRanker always returns the same score (useful for testing/baseline)
type ConstantRanker struct {
	score float64
}

func NewConstantRanker(score float64) *ConstantRanker {
	return &ConstantRanker{score: score}
}

func (r *ConstantRanker) Name() string { return "constant" }

func (r *ConstantRanker) Score(stat *store.IssueStat, ctx *Context) float64 {
	return r.score
}

type weighted struct {
	ranker Ranker
	weight float64
}

// Composite sums the weighted scores of its parts.
type Composite struct {
	name  string
	parts []weighted
}

func NewComposite(name string) *Composite {
	return &Composite{name: name}
}

// Add appends a ranker with the given weight and returns c for chaining.
func (c *Composite) Add(r Ranker, weight float64) *Composite {
	c.parts = append(c.parts, weighted{ranker: r, weight: weight})
	return c
}

func (c *Composite) Name() string { return c.name }

func (c *Composite) Score(stat *store.IssueStat, ctx *Context) float64 {
	total := 0.0
	for _, p := range c.parts {
		total += p.weight * p.ranker.Score(stat, ctx)
	}
	return total
}

// TrendingRanker is the trending score:
// articles*1.5 + max(publishers-1, 0)*2 + exp(-hours/6)*5.
func TrendingRanker() Ranker {
	return NewComposite("trending").
		Add(&ArticleCountRanker{}, 1.5).
		Add(&PublisherRanker{}, 2.0).
		Add(NewRecencyRanker(), 5.0) // Recency dominates
}

// Scored is an issue with its computed score.
type Scored struct {
	store.IssueStat
	Score float64
}

// Rank scores every stat with r and returns the top limit, highest first.
// Equal scores keep input order. limit <= 0 returns all.
func Rank(stats []store.IssueStat, r Ranker, ctx *Context, limit int) []Scored {
	out := make([]Scored, len(stats))
	for i := range stats {
		out[i] = Scored{IssueStat: stats[i], Score: r.Score(&stats[i], ctx)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
