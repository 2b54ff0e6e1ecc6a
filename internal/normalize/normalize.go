// Package normalize corrects known character-confusion artifacts of optical
// recognition in extracted receipt fields.
package normalize

import (
	"fmt"
	"strings"
)

// FieldType is the semantic type of a field, which decides where a
// substitution is unambiguous.
type FieldType string

const (
	FieldAmount    FieldType = "amount"
	FieldDate      FieldType = "date"
	FieldTime      FieldType = "time"
	FieldReference FieldType = "reference"
)

// letterToDigit maps look-alike letters to the digit they usually stand for.
// Applied only inside fields whose expected character class is numeric, where
// the substitution cannot change the meaning of a legitimate value.
var letterToDigit = map[rune]rune{
	'O': '0',
	'o': '0',
	'Q': '0',
	'I': '1',
	'l': '1',
	'i': '1',
	'Z': '2',
	'z': '2',
	'S': '5',
	's': '5',
	'B': '8',
	'G': '6',
	'T': '7',
}

// dateSeparators are passed through unchanged in date/time fields.
func isDateSeparator(r rune) bool {
	return r == '-' || r == '/' || r == '.' || r == ':' || r == ' '
}

// Result is the outcome of normalizing one field.
type Result struct {
	Value     string
	Corrected bool
	Note      string
}

// Field applies the substitution table to a single field value. An
// uncorrectable or empty field is returned unchanged; this function never
// fails.
func Field(value string, fieldType FieldType) Result {
	if value == "" {
		return Result{Value: value}
	}

	switch fieldType {
	case FieldAmount:
		return substituteNumeric(value, "$., ")
	case FieldDate, FieldTime:
		return substituteDateTime(value)
	case FieldReference:
		// References are alphanumeric: a letter may be legitimate, so no
		// substitution is unambiguous. Only whitespace is cleaned.
		trimmed := strings.TrimSpace(value)
		if trimmed != value {
			return Result{
				Value:     trimmed,
				Corrected: true,
				Note:      "trimmed surrounding whitespace",
			}
		}
		return Result{Value: value}
	default:
		return Result{Value: value}
	}
}

// substituteNumeric replaces look-alike letters in a field expected to be
// fully numeric. Runes in allowed pass through untouched.
func substituteNumeric(value, allowed string) Result {
	var b strings.Builder
	var changes []string

	for _, r := range value {
		if d, ok := letterToDigit[r]; ok {
			b.WriteRune(d)
			changes = append(changes, fmt.Sprintf("%c->%c", r, d))
			continue
		}
		if r >= '0' && r <= '9' || strings.ContainsRune(allowed, r) {
			b.WriteRune(r)
			continue
		}
		// Unknown rune: keep it. The anomaly detector will flag letters
		// remaining in a numeric field.
		b.WriteRune(r)
	}

	if len(changes) == 0 {
		return Result{Value: value}
	}
	return Result{
		Value:     b.String(),
		Corrected: true,
		Note:      "substituted " + strings.Join(changes, ", "),
	}
}

// substituteDateTime replaces look-alike letters in date/time fields, where
// everything except separators is expected to be a digit.
func substituteDateTime(value string) Result {
	var b strings.Builder
	var changes []string

	for _, r := range value {
		if d, ok := letterToDigit[r]; ok {
			b.WriteRune(d)
			changes = append(changes, fmt.Sprintf("%c->%c", r, d))
			continue
		}
		if r >= '0' && r <= '9' || isDateSeparator(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(r)
	}

	if len(changes) == 0 {
		return Result{Value: value}
	}
	return Result{
		Value:     b.String(),
		Corrected: true,
		Note:      "substituted " + strings.Join(changes, ", "),
	}
}

// HasArtifacts reports whether a value still contains look-alike letters
// after normalization. Used by the anomaly detector to flag fields where
// normalization was insufficient or never applied.
func HasArtifacts(value string) bool {
	for _, r := range value {
		if _, ok := letterToDigit[r]; ok {
			return true
		}
	}
	return false
}

// HasLetters reports whether a field expected to be purely numeric still
// contains any letter.
func HasLetters(value string) bool {
	for _, r := range value {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}
