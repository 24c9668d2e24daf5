package card

import (
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/econpulse/internal/ranking"
	"github.com/abelbrown/econpulse/internal/store"
)

const (
	sampleSizeLarge    = 5
	sampleSizeSmall    = 3
	largeIssueArticles = 12

	maxPromptTitle   = 120
	maxPromptSummary = 260

	promptTimeLayout = "2006-01-02 15:04"
)

// requiredFields must all be present in a valid card.
var requiredFields = []string{
	"headline", "signal_summary", "issue_title", "conclusion", "why_it_matters",
	"evidence", "counter_scenario", "impact", "action_guide",
}

var responseSchema = map[string]interface{}{
	"type":     "object",
	"required": requiredFields,
	"properties": map[string]interface{}{
		"headline":       map[string]string{"type": "string"},
		"signal_summary": map[string]string{"type": "string"},
		"issue_title":    map[string]string{"type": "string"},
		"conclusion":     map[string]string{"type": "string"},
		"why_it_matters": map[string]string{"type": "string"},
		"evidence": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":     "object",
				"required": []string{"fact", "source"},
				"properties": map[string]interface{}{
					"fact":   map[string]string{"type": "string"},
					"source": map[string]string{"type": "string"},
				},
			},
		},
		"counter_scenario": map[string]string{"type": "string"},
		"impact": map[string]interface{}{
			"type":     "object",
			"required": []string{"score", "reason"},
			"properties": map[string]interface{}{
				"score":  map[string]string{"type": "integer"},
				"reason": map[string]string{"type": "string"},
			},
		},
		"action_guide": map[string]string{"type": "string"},
	},
}

const systemInstruction = `너는 경제 뉴스 분석 서비스의 에디터다.
여러 언론사의 기사를 종합해 이슈 결론 카드와 사용자용 헤드라인을 만든다.

[헤드라인]
- headline은 25자 이내, 하나의 핵심 사건만 담는다.
- "~관련 이슈" 같은 분류형 표현을 쓰지 않는다.
- 가능하면 숫자, 시점, 방향(상승/하락/개입)을 포함한다.
- signal_summary는 headline 아래 한 줄 요약이며 30자 이내다.

[impact.score]
- 0: 시장 소음, 1: 특정 업계만 영향, 2: 일부 소비자/투자자 체감,
  3: 다수가 단기 체감, 4: 생활비/대출/투자 전반에 뚜렷한 영향, 5: 금융위기급(극히 드묾).
- 대부분의 이슈는 2~3점이다.

[작성 규칙]
- conclusion 첫 문장은 최근 가장 중요한 사건을 수치와 함께 요약하고 최대 2문장이다.
- evidence는 2~4개, source에는 언론사 이름만 쓴다.
- counter_scenario는 정반대 흐름에 필요한 조건 하나를 쓴다.
- action_guide는 해석 기준을 제시하고 막연한 조언을 피한다.
- 기사 문장을 그대로 복사하거나 근거 없는 추측, 단정적 예측, 투자 추천을 하지 않는다.

[출력]
- JSON만 출력한다. 마크다운이나 설명 문장을 붙이지 않는다.
{
  "headline": string,
  "signal_summary": string,
  "issue_title": string,
  "conclusion": string,
  "why_it_matters": string,
  "evidence": [{"fact": string, "source": string}],
  "counter_scenario": string,
  "impact": {"score": number, "reason": string},
  "action_guide": string
}`

// BuildPrompt renders the generation prompt for an issue. articles
// should already be ordered by event score; a publisher-diverse sample
// of them is included.
func BuildPrompt(issue store.Issue, articles []store.Article) string {
	size := sampleSizeSmall
	if len(articles) >= largeIssueArticles {
		size = sampleSizeLarge
	}
	sampled := sampleArticles(articles, size)

	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\n=== 이슈 정보 ===\n")
	fmt.Fprintf(&b, "- 분류: %s\n", issue.Group.DisplayName())
	fmt.Fprintf(&b, "- 핑거프린트: %s\n", issue.Fingerprint)
	fmt.Fprintf(&b, "- 키워드: %s\n", strings.Join(issue.Keywords, ", "))
	fmt.Fprintf(&b, "- 최초 발행: %s\n", formatTime(issue.FirstPublishedAt))
	fmt.Fprintf(&b, "- 최근 발행: %s\n", formatTime(issue.LastPublishedAt))
	fmt.Fprintf(&b, "- 기사 수: %d\n", issue.ArticleCount)
	fmt.Fprintf(&b, "- 출처 수: %d\n", issue.PublisherCount)

	b.WriteString("\n=== 관련 기사(대표 샘플) ===\n")
	writeSampleNote(&b, articles, len(sampled))
	for i, a := range sampled {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, strings.TrimSpace(a.Publisher))
		fmt.Fprintf(&b, "제목: %s\n", normalizeText(a.Title, maxPromptTitle))
		fmt.Fprintf(&b, "요약: %s\n", normalizeText(a.Summary, maxPromptSummary))
		fmt.Fprintf(&b, "발행: %s\n", formatTime(a.PublishedAt))
		fmt.Fprintf(&b, "링크: %s\n", a.Link)
	}
	b.WriteString("\n위 기사들을 종합 분석하여 결론 카드 JSON을 생성해라.")
	return b.String()
}

func writeSampleNote(b *strings.Builder, all []store.Article, sampled int) {
	publishers := make(map[string]bool)
	var earliest, latest time.Time
	for i, a := range all {
		if p := strings.TrimSpace(a.Publisher); p != "" {
			publishers[p] = true
		}
		if i == 0 || a.PublishedAt.Before(earliest) {
			earliest = a.PublishedAt
		}
		if i == 0 || a.PublishedAt.After(latest) {
			latest = a.PublishedAt
		}
	}
	fmt.Fprintf(b, "- 전체 기사: %d건 / 전체 언론사: %d개\n", len(all), len(publishers))
	if len(all) > 0 {
		fmt.Fprintf(b, "- 기사 발행 범위: %s ~ %s\n", formatTime(earliest), formatTime(latest))
	}
	fmt.Fprintf(b, "- 아래는 언론사 다양성과 사건성을 고려한 대표 %d건 샘플이다.\n", sampled)
}

// sampleArticles picks up to size articles, one per publisher first in
// the given order, then fills from the rest.
func sampleArticles(articles []store.Article, size int) []store.Article {
	picked := make([]store.Article, 0, size)
	seenLink := make(map[string]bool)
	seenPublisher := make(map[string]bool)

	for _, a := range articles {
		if len(picked) >= size {
			break
		}
		pub := strings.TrimSpace(a.Publisher)
		if pub == "" {
			pub = "unknown"
		}
		if seenLink[a.Link] || seenPublisher[pub] {
			continue
		}
		picked = append(picked, a)
		seenLink[a.Link] = true
		seenPublisher[pub] = true
	}
	for _, a := range articles {
		if len(picked) >= size {
			break
		}
		if seenLink[a.Link] {
			continue
		}
		picked = append(picked, a)
		seenLink[a.Link] = true
	}
	return picked
}

// selectEvidence orders articles by event score and keeps the top n.
func selectEvidence(articles []store.Article, now time.Time, n int) []store.Article {
	ordered := ranking.ByEventScore(articles, now)
	if len(ordered) > n {
		ordered = ordered[:n]
	}
	return ordered
}

// normalizeText collapses whitespace and truncates to maxLen runes.
func normalizeText(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "-"
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(promptTimeLayout)
}
