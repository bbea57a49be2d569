// Package barcode maps text to bar patterns and back.
//
// Every supported character has a fixed pattern of bar ('|') and space (' ')
// tokens. Several characters share a pattern, so decoding is lossy: Decode
// reports every candidate instead of picking one.
package barcode

import (
	"slices"
	"strings"
)

// Token values used inside a Pattern.
const (
	Bar   = '|'
	Space = ' '
)

// Pattern is a sequence of bar and space tokens for one character.
type Pattern string

// Bars returns the number of bar tokens in the pattern.
func (p Pattern) Bars() int {
	return strings.Count(string(p), string(Bar))
}

var table = map[rune]Pattern{
	'A': "|||| ||", 'B': "||| |||", 'C': "|| ||||", 'D': "|| ||| |",
	'E': "|| || ||", 'F': "| |||||", 'G': "| |||| |",
	'H': "| ||| ||", 'I': "| || |||", 'J': "| | ||||",
	'K': "|||| | |", 'L': "||| || |", 'M': "||| | ||",
	'N': "|| ||| |", 'O': "|| || ||", 'P': "|| | |||",
	'Q': "|| | || |", 'R': "| |||| |", 'S': "| ||| ||",
	'T': "| || |||", 'U': "| | ||||", 'V': "|||| | |",
	'W': "||| || |", 'X': "||| | ||", 'Y': "|| ||| |",
	'Z': "|| || ||",
	'0': "|||||| ", '1': "||||| |", '2': "|||| ||",
	'3': "|||| | ", '4': "||| || ", '5': "||| | |",
	'6': "|| ||| ", '7': "|| || |", '8': "|| | ||",
	'9': "| |||||",
	' ': "|||| || ", '*': "||| ||| ", '-': "|| |||| ",
	'$': "|| ||| | ", '%': "|| || || ", '.': "|| | ||| ",
	'/': "| ||||| ", '+': "| |||| | ",
}

// order is the canonical alphabet order used for candidate lists.
const order = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 *-$%./+"

// reverse holds every character sharing a pattern, in alphabet order.
var reverse = buildReverse()

func buildReverse() map[Pattern][]rune {
	r := make(map[Pattern][]rune, len(table))
	for _, c := range order {
		p := table[c]
		r[p] = append(r[p], c)
	}
	return r
}

// Alphabet returns the supported characters in canonical order.
func Alphabet() []rune {
	return []rune(order)
}

// Lookup returns the pattern for c.
func Lookup(c rune) (Pattern, bool) {
	p, ok := table[c]
	return p, ok
}

// Supported reports whether c can be encoded.
func Supported(c rune) bool {
	_, ok := table[c]
	return ok
}

// Collisions returns every pattern shared by more than one character,
// mapped to the characters sharing it.
func Collisions() map[Pattern][]rune {
	out := make(map[Pattern][]rune)
	for p, chars := range reverse {
		if len(chars) > 1 {
			out[p] = slices.Clone(chars)
		}
	}
	return out
}
