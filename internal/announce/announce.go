// Package announce turns called tickets into the phrases spoken over the
// clinic's speakers and holds the voice-synthesis boundary.
package announce

import "strings"

// Format builds the spoken phrase for a call. Pure custom labels (letters
// only) are read verbatim; ticket labels are spelled character by character
// so the voice engine pronounces "NP0007" as "N P 0 0 0 7".
func Format(displayLabel, counterLabel string) string {
	if isAlphabetic(displayLabel) {
		return displayLabel + ", dirija-se ao guichê " + counterLabel
	}
	return "Senha " + spell(displayLabel) + ", dirija-se ao guichê " + counterLabel
}

func isAlphabetic(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !isLetter(r) && r != ' ' {
			return false
		}
	}
	return true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// spell splits the label into its leading non-digit prefix and trailing digit
// run and joins every character with spaces. Labels matching neither shape
// are space-joined whole.
func spell(label string) string {
	prefixEnd := 0
	for prefixEnd < len(label) {
		c := label[prefixEnd]
		if c >= '0' && c <= '9' {
			break
		}
		prefixEnd++
	}
	digitsEnd := prefixEnd
	for digitsEnd < len(label) {
		c := label[digitsEnd]
		if c < '0' || c > '9' {
			break
		}
		digitsEnd++
	}

	// Anything after the digit run is dropped, matching how the display
	// labels are built (prefix then number, nothing else).
	spellable := label
	if prefixEnd > 0 && digitsEnd > prefixEnd {
		spellable = label[:digitsEnd]
	}

	parts := make([]string, 0, len(spellable))
	for _, r := range spellable {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, " ")
}
