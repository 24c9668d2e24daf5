// Package lifecycle tracks each issue's momentum as a five-stage state
// machine driven by its rolling 24-hour article count.
package lifecycle

import "fmt"

// Stage is an issue's lifecycle stage. The string value is what gets
// stored and served.
type Stage string

const (
	Emerging  Stage = "EMERGING"
	Spreading Stage = "SPREADING"
	Peak      Stage = "PEAK"
	Declining Stage = "DECLINING"
	Dormant   Stage = "DORMANT"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{Emerging, Spreading, Peak, Declining, Dormant}

// StageInfo is presentation metadata for a stage. It is static and never
// computed.
type StageInfo struct {
	Emoji       string `json:"emoji"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

var stageTable = map[Stage]StageInfo{
	Emerging:  {Emoji: "🔥", Label: "발생", Description: "새롭게 떠오르는 이슈"},
	Spreading: {Emoji: "📈", Label: "확산", Description: "관심이 빠르게 증가 중"},
	Peak:      {Emoji: "⚠️", Label: "정점", Description: "관심이 최고조에 달함"},
	Declining: {Emoji: "📉", Label: "소강", Description: "관심이 줄어드는 중"},
	Dormant:   {Emoji: "💤", Label: "종료", Description: "이슈가 마무리됨"},
}

// Info returns the presentation metadata for s.
func (s Stage) Info() StageInfo { return stageTable[s] }

// ParseStage validates a stored stage name.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if _, ok := stageTable[s]; !ok {
		return "", fmt.Errorf("unknown lifecycle stage %q", name)
	}
	return s, nil
}
