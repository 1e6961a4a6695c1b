package tool

import "strings"

// criticalNames are built-ins whose blast radius is arbitrary code or
// filesystem-wide effects.
var criticalNames = []string{"shell.run"}

// highNames are built-ins that mutate state or reach the network.
var highNames = []string{"fs.write", "http.get"}

// mediumNames are built-ins that only read local state.
var mediumNames = []string{"fs.read"}

// ClassifyTool determines the risk level of a tool call by its dotted
// name. Matching is by exact name first, falling back to substring
// matching on the whole lowercased name so a future pack tool named
// something like "fs.delete" still lands in a sane bucket before an
// explicit entry is added here.
func ClassifyTool(name string) RiskLevel {
	lower := strings.ToLower(name)

	for _, n := range criticalNames {
		if lower == n {
			return RiskLevelCritical
		}
	}
	for _, n := range highNames {
		if lower == n {
			return RiskLevelHigh
		}
	}
	for _, n := range mediumNames {
		if lower == n {
			return RiskLevelMedium
		}
	}

	switch {
	case strings.Contains(lower, "shell"), strings.Contains(lower, "exec"), strings.Contains(lower, "delete"):
		return RiskLevelCritical
	case strings.Contains(lower, "write"), strings.Contains(lower, "http"), strings.Contains(lower, "net"):
		return RiskLevelHigh
	case strings.Contains(lower, "read"), strings.Contains(lower, "get"):
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}
