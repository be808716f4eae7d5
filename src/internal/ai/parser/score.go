package parser

import (
	"regexp"
	"strconv"
)

// ScoreMarker 报告中分数前的固定标记
const ScoreMarker = "Audit Score: "

var scorePattern = regexp.MustCompile(`Audit Score: (\d+)`)

// ExtractScore 返回报告中第一个 "Audit Score: <n>" 的整数值。
// 不做范围校验；找不到标记或数字无法表示为 int 时返回 false。
func ExtractScore(report string) (int, bool) {
	m := scorePattern.FindStringSubmatch(report)
	if len(m) < 2 {
		return 0, false
	}
	score, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return score, true
}
