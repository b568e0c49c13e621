package round

import (
	"regexp"
	"strings"
)

// optionPrefix matches a leading "A. " or "b) " label on option text.
var optionPrefix = regexp.MustCompile(`^\s*[A-Za-z][.)]\s+`)

// OptionLetter returns the letter code for the i-th option ("A" for 0). It
// returns "" when i is out of the A-Z range.
func OptionLetter(i int) string {
	if i < 0 || i >= 26 {
		return ""
	}
	return string(rune('A' + i))
}

// LetterIndex is the inverse of OptionLetter. It returns -1 for anything that
// is not a single letter.
func LetterIndex(letter string) int {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
		return -1
	}
	return int(letter[0] - 'A')
}

// DisplayOption strips a textual letter prefix for display. The stored answer
// is always the letter code, never this text.
func DisplayOption(text string) string {
	return optionPrefix.ReplaceAllString(text, "")
}

// Percent returns part/total as a whole percentage capped at 100.
func Percent(part, total int) int {
	if total <= 0 || part <= 0 {
		return 0
	}
	return min(100, part*100/total)
}
