// Package prompt constructs the text sent to a backend for one
// participant turn. Building is a pure function of its inputs: same
// profile, round and history always yield the same prompt.
package prompt

import (
	"fmt"
	"strings"
)

// Participant is the persona view the builder needs.
type Participant struct {
	Name  string
	Role  string
	Style string
}

// Turn is one prior contribution shown back to a participant.
type Turn struct {
	Speaker string
	Text    string
}

// Builder renders round-aware discussion prompts.
type Builder struct {
	window   int    // prior turns included in response rounds
	language string // register participants answer in
	maxWords int
}

// New creates a Builder. window is clamped to the 2..6 range the
// discussion protocol supports.
func New(window int, language string, maxWords int) *Builder {
	if window < 2 {
		window = 2
	}
	if window > 6 {
		window = 6
	}
	return &Builder{window: window, language: language, maxWords: maxWords}
}

// Build produces the full prompt for one turn. Round numbering is
// zero-based; totalRounds is the configured round count.
func (b *Builder) Build(p Participant, round, totalRounds int, question string, prior []Turn) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("You are %s. Persona: %s. Conversational style: %s.", p.Name, p.Role, p.Style))
	parts = append(parts, fmt.Sprintf("Discussion question: %s", question))

	switch {
	case round == 0:
		parts = append(parts, b.introInstructions())
	case round == totalRounds-1 && totalRounds > 1:
		parts = append(parts, b.synthesisInstructions(prior))
	default:
		parts = append(parts, b.responseInstructions(prior))
	}

	parts = append(parts, b.styleBlock())

	return strings.Join(parts, "\n\n")
}

func (b *Builder) introInstructions() string {
	return strings.Join([]string{
		"This is the opening round.",
		"- Introduce yourself in a single line, then stop talking about yourself.",
		"- Give your own independent analysis of the question.",
		"- Do not restate persona boilerplate beyond that one introduction line.",
	}, "\n")
}

func (b *Builder) responseInstructions(prior []Turn) string {
	var sb strings.Builder
	sb.WriteString("Previous contributions:\n")
	sb.WriteString(b.renderWindow(prior))
	sb.WriteString("\n")
	sb.WriteString(strings.Join([]string{
		"Your task this round:",
		"- React to exactly one point raised above, naming who raised it.",
		"- Add one new angle of your own.",
		"- Do not repeat content that already appears above.",
	}, "\n"))
	return sb.String()
}

func (b *Builder) synthesisInstructions(prior []Turn) string {
	var sb strings.Builder
	sb.WriteString("This is the final round. The discussion so far:\n")
	sb.WriteString(b.renderWindow(prior))
	sb.WriteString("\n")
	sb.WriteString(strings.Join([]string{
		"Your task this round:",
		"- Summarize the main points that were raised.",
		"- State your personal conclusion on the question.",
		"- Do not introduce new unrelated material.",
	}, "\n"))
	return sb.String()
}

// renderWindow formats the last `window` prior turns as "name: text".
func (b *Builder) renderWindow(prior []Turn) string {
	start := 0
	if len(prior) > b.window {
		start = len(prior) - b.window
	}
	var lines []string
	for _, turn := range prior[start:] {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Speaker, turn.Text))
	}
	if len(lines) == 0 {
		return "(no prior contributions)"
	}
	return strings.Join(lines, "\n")
}

// styleBlock is the fixed constraint block appended to every variant.
func (b *Builder) styleBlock() string {
	return strings.Join([]string{
		"Constraints:",
		fmt.Sprintf("- Respond in %s.", b.language),
		fmt.Sprintf("- Keep your answer under %d words.", b.maxWords),
		"- Do not restate the question or your persona.",
	}, "\n")
}
