package parser

// GetExpectedJSONSchema 返回期望的 JSON 响应格式说明
func GetExpectedJSONSchema() string {
	return `{
  "report": "Full audit report in Markdown",
  "score": 85,
  "findings": [
    {
      "title": "Reentrancy in withdraw()",
      "severity": "Critical|High|Medium|Low|Info",
      "description": "Detailed description of the issue",
      "location": "Function or contract name",
      "remediation": "How to fix this issue"
    }
  ]
}`
}

// GetSchemaInstructions 返回追加到审计指令后的格式说明
func GetSchemaInstructions() string {
	return `Return your audit as a single JSON object in the following format:

` + GetExpectedJSONSchema() + `

Requirements:
1. "report" holds the complete human readable audit
2. "score" is an integer from 0 to 100
3. Every finding uses one of the severities Critical, High, Medium, Low, Info

Return ONLY the JSON object, without any additional text or markdown formatting.`
}

// SeverityLevel 定义严重性级别
type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "Critical"
	SeverityHigh     SeverityLevel = "High"
	SeverityMedium   SeverityLevel = "Medium"
	SeverityLow      SeverityLevel = "Low"
	SeverityInfo     SeverityLevel = "Info"
)

// GetSeverityScore 获取严重性分数（用于排序），未知级别返回 0
func GetSeverityScore(severity string) int {
	switch SeverityLevel(severity) {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}
