// Package matcher decides whether a claimant's guess names a drop.
//
// Rules, applied in order:
//   - a guess containing a forbidden character never matches
//   - a case-insensitive match of the whole display name always matches
//   - for multi-word names, a guess equal to one whole word of at least
//     MinWordLength characters matches
//   - single-word names only match exactly
package matcher

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultForbidden lists characters that reject a guess outright.
const DefaultForbidden = "@#$%^*=+<>/\\|{}[]`~"

// DefaultMinWordLength is the shortest partial word that can match a multi-word name.
const DefaultMinWordLength = 3

// Rules configures evidence matching.
type Rules struct {
	// MinWordLength is the minimum rune length of a partial word match.
	MinWordLength int

	// Forbidden contains characters that make any guess invalid.
	Forbidden string
}

// DefaultRules returns the standard matching rules.
func DefaultRules() Rules {
	return Rules{MinWordLength: DefaultMinWordLength, Forbidden: DefaultForbidden}
}

// Match reports whether evidence names displayName under r.
//
// Parameters:
//   - evidence: Free-text guess from the claimant
//   - displayName: Display name of the live drop
//
// Returns:
//   - bool: true if the guess is accepted
//
// Example:
//
//	rules := matcher.DefaultRules()
//	rules.Match("jean", "Jean Grey") // true
//	rules.Match("Gr", "Jean Grey")   // false, shorter than MinWordLength
//	rules.Match("St", "Storm")       // false, single-word names need an exact match
func (r Rules) Match(evidence, displayName string) bool {
	guess := normalize(evidence)
	name := normalize(displayName)
	if guess == "" || name == "" {
		return false
	}
	if r.Forbidden != "" && strings.ContainsAny(guess, r.Forbidden) {
		return false
	}
	if strings.EqualFold(guess, name) {
		return true
	}

	words := strings.Fields(name)
	if len(words) < 2 || strings.ContainsFunc(guess, unicode.IsSpace) {
		return false
	}

	minLen := r.MinWordLength
	if minLen <= 0 {
		minLen = DefaultMinWordLength
	}
	if utf8.RuneCountInString(guess) < minLen {
		return false
	}

	for _, w := range words {
		if strings.EqualFold(guess, w) {
			return true
		}
	}

	return false
}

// normalize trims and collapses internal whitespace runs to a single space.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
