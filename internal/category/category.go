// Package category classifies economic news text into a fixed set of
// topic groups by keyword counting.
//
// The group table is static data. Declaration order matters: it is the
// tie-break when two groups match the same number of keywords, so
// reordering Groups changes classification results.
package category

import (
	"fmt"
	"strings"
)

// Group is one of the closed set of economic topic groups.
type Group int

const (
	Rate Group = iota + 1
	FX
	Stock
	RealEstate
	Macro
	Policy
)

// groupInfo is the static metadata for a Group.
type groupInfo struct {
	name          string
	displayName   string
	titleTemplate string
	keywords      []string
}

var groupTable = map[Group]groupInfo{
	Rate: {
		name:          "RATE",
		displayName:   "금리/통화정책",
		titleTemplate: "금리 관련 이슈",
		keywords:      []string{"금리", "기준금리", "연준", "fed", "파월", "한은", "동결", "인상", "인하", "bp"},
	},
	FX: {
		name:          "FX",
		displayName:   "환율/외환",
		titleTemplate: "환율 관련 이슈",
		keywords:      []string{"환율", "달러", "원화", "엔화", "유로", "외환", "강세", "약세"},
	},
	Stock: {
		name:          "STOCK",
		displayName:   "증시/주식",
		titleTemplate: "증시 관련 이슈",
		keywords:      []string{"코스피", "코스닥", "주가", "증시", "상승", "하락", "급락", "급등", "시총"},
	},
	RealEstate: {
		name:          "REALESTATE",
		displayName:   "부동산",
		titleTemplate: "부동산 이슈",
		keywords:      []string{"부동산", "아파트", "전세", "월세", "분양", "청약", "주택", "재건축", "재개발"},
	},
	Macro: {
		name:          "MACRO",
		displayName:   "거시지표",
		titleTemplate: "거시지표 이슈",
		keywords:      []string{"물가", "cpi", "ppi", "고용", "실업", "gdp", "수출", "수입", "무역수지", "경기"},
	},
	Policy: {
		name:          "POLICY",
		displayName:   "정책/제도",
		titleTemplate: "정책 이슈",
		keywords:      []string{"세금", "관세", "규제", "지원", "법안", "정책", "대책", "추경", "예산", "금융위", "금감원", "기재부"},
	},
}

// Groups lists every group in declaration order.
var Groups = []Group{Rate, FX, Stock, RealEstate, Macro, Policy}

// String returns the stable upper-case name used in fingerprints and storage.
func (g Group) String() string {
	if info, ok := groupTable[g]; ok {
		return info.name
	}
	return fmt.Sprintf("Group(%d)", int(g))
}

// DisplayName returns the human-readable group label.
func (g Group) DisplayName() string { return groupTable[g].displayName }

// TitleTemplate returns the prefix used for generated issue titles.
func (g Group) TitleTemplate() string { return groupTable[g].titleTemplate }

// Keywords returns a copy of the group's keywords in declared order.
func (g Group) Keywords() []string {
	kw := groupTable[g].keywords
	out := make([]string, len(kw))
	copy(out, kw)
	return out
}

// Valid reports whether g is one of the declared groups.
func (g Group) Valid() bool {
	_, ok := groupTable[g]
	return ok
}

// Parse maps a stored group name back to a Group.
func Parse(name string) (Group, error) {
	for _, g := range Groups {
		if groupTable[g].name == name {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown category group %q", name)
}

// Classify returns the group whose keywords appear most often in text.
// Matching is a case-insensitive substring test. On a tie the group
// declared first wins. ok is false when no keyword matches at all.
func Classify(text string) (g Group, ok bool) {
	lower := strings.ToLower(text)
	best := 0
	for _, group := range Groups {
		count := 0
		for _, kw := range groupTable[group].keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		// Strict > keeps the earliest group on ties.
		if count > best {
			best = count
			g = group
		}
	}
	return g, best > 0
}

// ExtractKeywords returns the keywords of g that appear in text, in the
// group's declared order, without duplicates.
func ExtractKeywords(text string, g Group) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range groupTable[g].keywords {
		if strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// ExtractAllKeywords is ExtractKeywords across every group, in group
// declaration order. A keyword shared by two groups is returned once.
func ExtractAllKeywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range Groups {
		for _, kw := range ExtractKeywords(text, g) {
			if !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}
