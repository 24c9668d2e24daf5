// Package cluster groups recent articles into issues.
//
// Clustering is greedy seed-and-absorb within a category group: articles
// are visited newest first, each unconsumed article seeds a cluster, and
// every other unconsumed article similar to the seed joins it. Given the
// same input the clusters, keywords and fingerprints are identical, which
// is what lets repeated runs converge on the same stored issue.
package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abelbrown/econpulse/internal/category"
	"github.com/abelbrown/econpulse/internal/store"
)

const (
	// MinCommonKeywords is the keyword overlap two articles need to be similar.
	MinCommonKeywords = 2
	// MaxTimeDiff is the widest publish-time gap between similar articles.
	MaxTimeDiff = 48 * time.Hour
	// MinArticles and MinPublishers gate which clusters become issues.
	MinArticles   = 2
	MinPublishers = 2
	// MaxKeywords caps an issue's keyword list; MinKeywords is the floor
	// below which a cluster is rejected.
	MaxKeywords = 8
	MinKeywords = 3

	// maxFingerprintLen is the character length above which the keyword
	// part of a fingerprint is replaced by a hash.
	maxFingerprintLen = 64
)

// ClassifiedArticle is an article with its group and matched keywords.
type ClassifiedArticle struct {
	store.Article
	Group    category.Group
	Keywords []string
}

// Cluster is a transient group of similar articles from one pass.
type Cluster struct {
	Group    category.Group
	Articles []ClassifiedArticle
}

// Publishers returns the number of distinct publishers in the cluster.
func (c Cluster) Publishers() int {
	seen := make(map[string]bool, len(c.Articles))
	for _, a := range c.Articles {
		seen[a.Publisher] = true
	}
	return len(seen)
}

// articleText is the text classification and keyword extraction run on.
func articleText(a store.Article) string {
	return a.Title + " " + a.Summary
}

// Classify tags each article with its group and keywords. Articles that
// match no group are dropped; the second return value counts them.
func Classify(articles []store.Article) ([]ClassifiedArticle, int) {
	out := make([]ClassifiedArticle, 0, len(articles))
	dropped := 0
	for _, a := range articles {
		text := articleText(a)
		g, ok := category.Classify(text)
		if !ok {
			dropped++
			continue
		}
		out = append(out, ClassifiedArticle{
			Article:  a,
			Group:    g,
			Keywords: category.ExtractKeywords(text, g),
		})
	}
	return out, dropped
}

// IsSimilar reports whether two articles belong in the same cluster:
// same group, published within MaxTimeDiff of each other, and sharing at
// least MinCommonKeywords keywords. The relation is symmetric.
func IsSimilar(a, b ClassifiedArticle) bool {
	if a.Group != b.Group {
		return false
	}
	diff := a.PublishedAt.Sub(b.PublishedAt)
	if diff < 0 {
		diff = -diff
	}
	if diff > MaxTimeDiff {
		return false
	}
	return commonKeywords(a.Keywords, b.Keywords) >= MinCommonKeywords
}

func commonKeywords(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, k := range a {
		set[k] = true
	}
	n := 0
	counted := make(map[string]bool, len(b))
	for _, k := range b {
		if set[k] && !counted[k] {
			counted[k] = true
			n++
		}
	}
	return n
}

// Build partitions articles by group and runs seed-and-absorb in each.
// Groups are emitted in declaration order; within a group, clusters are
// emitted in seed order (newest seed first).
func Build(articles []ClassifiedArticle) []Cluster {
	byGroup := make(map[category.Group][]ClassifiedArticle)
	for _, a := range articles {
		byGroup[a.Group] = append(byGroup[a.Group], a)
	}

	var clusters []Cluster
	for _, g := range category.Groups {
		members := byGroup[g]
		if len(members) == 0 {
			continue
		}
		sorted := make([]ClassifiedArticle, len(members))
		copy(sorted, members)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
		})
		clusters = append(clusters, seedAndAbsorb(g, sorted)...)
	}
	return clusters
}

// seedAndAbsorb clusters one group's articles, already sorted newest first.
// Consumption is tracked by link, so a duplicate link never lands in two
// clusters.
func seedAndAbsorb(g category.Group, sorted []ClassifiedArticle) []Cluster {
	used := make(map[string]bool, len(sorted))
	var clusters []Cluster

	for i, seed := range sorted {
		if used[seed.Link] {
			continue
		}
		used[seed.Link] = true
		c := Cluster{Group: g, Articles: []ClassifiedArticle{seed}}

		for _, other := range sorted[i+1:] {
			if used[other.Link] {
				continue
			}
			if IsSimilar(seed, other) {
				used[other.Link] = true
				c.Articles = append(c.Articles, other)
			}
		}
		clusters = append(clusters, c)
	}
	return clusters
}

// Eligible reports whether a cluster passes the minimum-size gate.
func Eligible(c Cluster) bool {
	return len(c.Articles) >= MinArticles && c.Publishers() >= MinPublishers
}

// MergeKeywords tallies keyword frequency across the cluster and returns
// up to MaxKeywords, most frequent first. Ties keep first-seen order.
func MergeKeywords(c Cluster) []string {
	counts := make(map[string]int)
	var order []string
	for _, a := range c.Articles {
		for _, k := range a.Keywords {
			if counts[k] == 0 {
				order = append(order, k)
			}
			counts[k]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > MaxKeywords {
		order = order[:MaxKeywords]
	}
	return order
}

// IssueKeywords resolves a cluster's keyword profile through the fallback
// chain: merged member keywords, then keywords from every group found in
// the members' full text. ok is false when both yield fewer than
// MinKeywords, in which case the cluster must not become an issue.
func IssueKeywords(c Cluster) (keywords []string, ok bool) {
	if merged := MergeKeywords(c); len(merged) >= MinKeywords {
		return merged, true
	}

	seen := make(map[string]bool)
	var all []string
	for _, a := range c.Articles {
		for _, k := range category.ExtractAllKeywords(articleText(a.Article)) {
			if !seen[k] {
				seen[k] = true
				all = append(all, k)
			}
		}
	}
	if len(all) > MaxKeywords {
		all = all[:MaxKeywords]
	}
	if len(all) >= MinKeywords {
		return all, true
	}
	return nil, false
}

// Fingerprint is the issue identity key: the group name, a colon, and the
// top three keywords sorted and comma-joined. Strings longer than 64
// characters keep the group prefix and replace the rest with the hex of
// the first 16 bytes of the SHA-256 of the whole string.
func Fingerprint(g category.Group, keywords []string) string {
	top := keywords
	if len(top) > 3 {
		top = top[:3]
	}
	sorted := make([]string, len(top))
	copy(sorted, top)
	sort.Strings(sorted)

	prefix := g.String() + ":"
	raw := prefix + strings.Join(sorted, ",")
	if utf8.RuneCountInString(raw) <= maxFingerprintLen {
		return raw
	}
	sum := sha256.Sum256([]byte(raw))
	return prefix + hex.EncodeToString(sum[:16])
}

// Title renders the issue title from the group template and the top two keywords.
func Title(g category.Group, keywords []string) string {
	top := keywords
	if len(top) > 2 {
		top = top[:2]
	}
	return g.TitleTemplate() + ": " + strings.Join(top, "/")
}

// PublishedRange returns the earliest and latest publish time in the cluster.
func PublishedRange(c Cluster) (first, last time.Time) {
	for i, a := range c.Articles {
		if i == 0 || a.PublishedAt.Before(first) {
			first = a.PublishedAt
		}
		if i == 0 || a.PublishedAt.After(last) {
			last = a.PublishedAt
		}
	}
	return first, last
}
