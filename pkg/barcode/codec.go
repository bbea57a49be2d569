package barcode

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownPattern is returned when a pattern matches no character.
var ErrUnknownPattern = errors.New("unknown pattern")

// Symbol is one encoded character.
type Symbol struct {
	Char    rune
	Pattern Pattern
}

// Sequence is the encoded form of a text, one Symbol per supported character.
type Sequence []Symbol

// Text returns the characters of the sequence.
func (s Sequence) Text() string {
	var b strings.Builder
	for _, sym := range s {
		b.WriteRune(sym.Char)
	}
	return b.String()
}

// String returns the patterns joined by a single '/' separator.
func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, sym := range s {
		parts[i] = string(sym.Pattern)
	}
	return strings.Join(parts, "/")
}

// Encode maps each character of text through the alphabet.
// Characters that are not in the alphabet are skipped.
func Encode(text string) Sequence {
	seq := make(Sequence, 0, len(text))
	for _, c := range text {
		p, ok := table[c]
		if !ok {
			continue
		}
		seq = append(seq, Symbol{Char: c, Pattern: p})
	}
	return seq
}

// Result is the outcome of decoding one pattern.
// A unique result has exactly one candidate; an ambiguous one has several,
// listed in alphabet order.
type Result struct {
	Pattern    Pattern
	Candidates []rune
}

// Unique reports whether the pattern maps to a single character.
func (r Result) Unique() bool {
	return len(r.Candidates) == 1
}

// Ambiguous reports whether several characters share the pattern.
func (r Result) Ambiguous() bool {
	return len(r.Candidates) > 1
}

// Char returns the decoded character when the result is unique.
func (r Result) Char() (rune, bool) {
	if !r.Unique() {
		return 0, false
	}
	return r.Candidates[0], true
}

// Contains reports whether c is one of the candidates.
func (r Result) Contains(c rune) bool {
	return slices.Contains(r.Candidates, c)
}

// BestEffort returns the first candidate in alphabet order.
// For ambiguous results this is a lossy guess.
func (r Result) BestEffort() rune {
	if len(r.Candidates) == 0 {
		return 0
	}
	return r.Candidates[0]
}

func (r Result) String() string {
	switch {
	case r.Unique():
		return string(r.Candidates[0])
	case r.Ambiguous():
		return "[" + string(r.Candidates) + "]"
	default:
		return "?"
	}
}

// Decode looks a pattern up in the reverse table.
func Decode(p Pattern) (Result, error) {
	chars, ok := reverse[p]
	if !ok {
		return Result{Pattern: p}, fmt.Errorf("%w: %q", ErrUnknownPattern, string(p))
	}
	return Result{Pattern: p, Candidates: slices.Clone(chars)}, nil
}

// DecodeSequence decodes every symbol of seq, one result per symbol.
// A pattern outside the alphabet yields a result with no candidates.
func DecodeSequence(seq Sequence) []Result {
	out := make([]Result, 0, len(seq))
	for _, sym := range seq {
		res, _ := Decode(sym.Pattern)
		out = append(out, res)
	}
	return out
}

// BestEffortText joins the best-effort character of every result.
func BestEffortText(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		if c := r.BestEffort(); c != 0 {
			b.WriteRune(c)
		}
	}
	return b.String()
}
