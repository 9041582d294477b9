package sanitize

import "unicode"

// ScriptProfile describes the writing system responses are expected
// in. Characters from other scripts are treated as noise; ASCII is
// always allowed alongside the target script.
type ScriptProfile struct {
	Name   string
	ranges []*unicode.RangeTable
}

var profiles = map[string]ScriptProfile{
	"arabic": {Name: "arabic", ranges: []*unicode.RangeTable{unicode.Arabic}},
	"latin":  {Name: "latin", ranges: []*unicode.RangeTable{unicode.Latin}},
}

// ProfileFor returns the named script profile, defaulting to latin.
func ProfileFor(name string) ScriptProfile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles["latin"]
}

// Contains reports whether r belongs to the target script.
func (p ScriptProfile) Contains(r rune) bool {
	return unicode.In(r, p.ranges...)
}

// isNoise reports whether r is a letter from a script that is neither
// the target nor ASCII.
func (p ScriptProfile) isNoise(r rune) bool {
	return r > 127 && unicode.IsLetter(r) && !p.Contains(r)
}
