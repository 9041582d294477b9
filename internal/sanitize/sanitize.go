// Package sanitize cleans raw backend output and scores its quality.
// Everything here is deterministic and side-effect free: the same
// input with the same thresholds always produces the same report,
// and sanitizing already-clean text is a no-op.
package sanitize

import (
	"regexp"
	"strings"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
)

// Placeholder is substituted when cleanup leaves nothing usable.
const Placeholder = "[no usable response]"

var (
	blankRunsRe    = regexp.MustCompile(`\n{3,}`)
	spaceRunsRe    = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeRe  = regexp.MustCompile(`[ \t]+([.!?؟،,])`)
	missingSpaceRe = regexp.MustCompile(`([.!?؟])(\p{L})`)
)

// sentence delimiters for the dedup pass
const sentenceEnders = ".!?؟"

// fragments shorter than this many runes are never deduplicated
const fragmentMin = 10

// Sanitizer applies per-backend cleanup rules, a generic
// normalization pass, sentence-level dedup, and quality scoring.
type Sanitizer struct {
	cfg          config.SanitizeConfig
	profile      ScriptProfile
	rules        map[string]Rule
	backendRules map[backend.ID][]string
}

// New builds a Sanitizer. Per-backend rule lists come from the
// backend registry so the mapping lives in configuration.
func New(cfg config.SanitizeConfig, registry *backend.Registry) *Sanitizer {
	profile := ProfileFor(cfg.TargetScript)
	s := &Sanitizer{
		cfg:          cfg,
		profile:      profile,
		rules:        ruleSet(profile),
		backendRules: make(map[backend.ID][]string),
	}
	if registry != nil {
		for _, id := range registry.IDs() {
			ep, err := registry.Lookup(id)
			if err != nil {
				continue
			}
			s.backendRules[id] = ep.CleanRules
		}
	}
	return s
}

// Sanitize cleans rawText according to the backend's rule list and
// returns the cleaned text with its quality report.
func (s *Sanitizer) Sanitize(rawText string, id backend.ID) (string, QualityReport) {
	text := rawText

	for _, name := range s.backendRules[id] {
		if rule, ok := s.rules[name]; ok {
			text = rule(text)
		}
	}

	text = s.normalize(text)
	text = s.dedupe(text)
	text = strings.TrimSpace(text)

	if text == "" {
		text = Placeholder
	}

	return text, s.Score(text)
}

// normalize is the generic pass applied to every backend's output.
func (s *Sanitizer) normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	text = spaceBeforeRe.ReplaceAllString(text, "$1")
	text = missingSpaceRe.ReplaceAllString(text, "$1 $2")
	text = spaceRunsRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// dedupe drops exact duplicate sentences, keeping the first
// occurrence and the original order. Fragments under fragmentMin
// runes pass through untouched.
func (s *Sanitizer) dedupe(text string) string {
	segments := splitSentences(text)
	seen := make(map[string]bool, len(segments))

	var b strings.Builder
	b.Grow(len(text))
	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg)
		if len([]rune(trimmed)) < fragmentMin {
			b.WriteString(seg)
			continue
		}
		key := normalizeSentence(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		b.WriteString(seg)
	}
	return b.String()
}

// splitSentences cuts text after runs of sentence-ending punctuation,
// keeping each segment's trailing whitespace so rejoining preserves
// the original layout.
func splitSentences(text string) []string {
	var segments []string
	runes := []rune(text)
	start := 0
	i := 0
	for i < len(runes) {
		if strings.ContainsRune(sentenceEnders, runes[i]) {
			// consume the full punctuation run and trailing whitespace
			for i < len(runes) && strings.ContainsRune(sentenceEnders, runes[i]) {
				i++
			}
			for i < len(runes) && (runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t') {
				i++
			}
			segments = append(segments, string(runes[start:i]))
			start = i
			continue
		}
		i++
	}
	if start < len(runes) {
		segments = append(segments, string(runes[start:]))
	}
	return segments
}

// normalizeSentence produces the comparison key for dedup.
func normalizeSentence(sentence string) string {
	sentence = strings.ToLower(sentence)
	sentence = strings.Join(strings.Fields(sentence), " ")
	return strings.TrimRight(sentence, sentenceEnders)
}
