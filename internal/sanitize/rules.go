package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

// Rule is a named text transform applied to raw backend output before
// the generic cleanup pass. Which rules run for which backend comes
// from configuration, so onboarding a backend is a config entry.
type Rule func(string) string

const (
	RuleStripForeignScripts = "strip_foreign_scripts"
	RuleStripCode           = "strip_code"
	RuleStripDiacritics     = "strip_diacritics"
)

var (
	fencedCodeRe  = regexp.MustCompile("(?s)```.*?```")
	danglingFence = regexp.MustCompile("(?s)```.*$")
	inlineCodeRe  = regexp.MustCompile("`[^`\n]*`")
)

// codeLinePrefixes marks lines that are almost certainly leaked code
// rather than prose.
var codeLinePrefixes = []string{
	"import ", "def ", "function ", "class ", "return ", "var ",
	"const ", "print(", "console.log", "#include", "package ",
}

// ruleSet returns the rule implementations bound to profile p.
func ruleSet(p ScriptProfile) map[string]Rule {
	return map[string]Rule{
		RuleStripForeignScripts: stripForeignScripts(p),
		RuleStripCode:           stripCode,
		RuleStripDiacritics:     stripDiacritics,
	}
}

// stripForeignScripts removes letters from scripts unrelated to the
// target language. ASCII, digits and punctuation always survive.
func stripForeignScripts(p ScriptProfile) Rule {
	return func(s string) string {
		var b strings.Builder
		b.Grow(len(s))
		for _, r := range s {
			if p.isNoise(r) {
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	}
}

// stripCode removes fenced and inline code blocks plus lines that
// start like source code.
func stripCode(s string) string {
	s = fencedCodeRe.ReplaceAllString(s, "")
	s = danglingFence.ReplaceAllString(s, "")
	s = inlineCodeRe.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isCodeLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isCodeLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range codeLinePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// stripDiacritics removes combining marks, invisible format
// characters, and markdown emphasis artifacts.
func stripDiacritics(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.In(r, unicode.Mn, unicode.Cf) {
			continue
		}
		if r == '*' || r == '#' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
