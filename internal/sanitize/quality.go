package sanitize

import (
	"strings"
	"unicode"
)

// Issue tags one quality problem found in a cleaned response.
type Issue string

const (
	IssueTooShort        Issue = "too_short"
	IssueTooLong         Issue = "too_long"
	IssueLowTargetScript Issue = "low_target_script"
	IssueForeignNoise    Issue = "foreign_noise"
	IssueRepetitive      Issue = "repetitive"
)

// QualityReport is the deterministic quality assessment of one
// cleaned response.
type QualityReport struct {
	IsValid bool    `json:"isValid"`
	Issues  []Issue `json:"issues"`
	Score   int     `json:"score"`
}

// scoring penalties
const (
	penaltyTooShort        = 30
	penaltyTooLong         = 10
	penaltyLowTargetScript = 20
	penaltyForeignNoise    = 15
	penaltyRepetitive      = 10
)

// Score computes the quality report for already-cleaned text.
// Starts at 100 and subtracts weighted penalties; the result is
// clamped to [0, 100].
func (s *Sanitizer) Score(cleaned string) QualityReport {
	report := QualityReport{Score: 100, Issues: []Issue{}}

	runes := []rune(cleaned)
	length := len(runes)

	if length < s.cfg.MinLength {
		report.Score -= penaltyTooShort
		report.Issues = append(report.Issues, IssueTooShort)
	}
	if length > s.cfg.MaxLength {
		report.Score -= penaltyTooLong
		report.Issues = append(report.Issues, IssueTooLong)
	}

	var total, target, noise int
	for _, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if s.profile.Contains(r) {
			target++
		}
		if s.profile.isNoise(r) {
			noise++
		}
	}
	if total > 0 && float64(target)/float64(total) < s.cfg.ScriptRatioMin {
		report.Score -= penaltyLowTargetScript
		report.Issues = append(report.Issues, IssueLowTargetScript)
	}
	if noise > s.cfg.NoiseCharMax {
		report.Score -= penaltyForeignNoise
		report.Issues = append(report.Issues, IssueForeignNoise)
	}

	if ratio, ok := uniqueWordRatio(cleaned); ok && ratio < s.cfg.UniqueWordMin {
		report.Score -= penaltyRepetitive
		report.Issues = append(report.Issues, IssueRepetitive)
	}

	if report.Score < 0 {
		report.Score = 0
	}
	if report.Score > 100 {
		report.Score = 100
	}

	report.IsValid = len(report.Issues) == 0 && report.Score >= s.cfg.ValidThreshold
	return report
}

func uniqueWordRatio(text string) (float64, bool) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0, false
	}
	unique := make(map[string]bool, len(words))
	for _, w := range words {
		unique[w] = true
	}
	return float64(len(unique)) / float64(len(words)), true
}
