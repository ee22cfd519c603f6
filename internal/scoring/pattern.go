// Package scoring recovers numeric score pairs from free-text agent replies.
package scoring

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrNoMatch is returned when a reply does not contain a parsable score pair.
var ErrNoMatch = errors.New("reply does not match score pattern")

// Pair holds the scores given to the first and second compared text.
// It marshals to JSON as a two-element array.
type Pair [2]int

// Pattern is a compiled score pattern with two integer capturing groups.
// A Pattern is immutable and safe for concurrent use.
type Pattern struct {
	re *regexp.Regexp
}

// Compile parses expr and checks that it has at least two capturing groups.
func Compile(expr string) (*Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile score pattern: %w", err)
	}
	if re.NumSubexp() < 2 {
		return nil, fmt.Errorf("score pattern %q has %d capturing groups, need 2", expr, re.NumSubexp())
	}
	return &Pattern{re: re}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source expression.
func (p *Pattern) String() string {
	return p.re.String()
}

// Extract searches reply for the first occurrence of the pattern and parses
// groups 1 and 2 as base-10 integers. Later occurrences are ignored.
func (p *Pattern) Extract(reply string) (Pair, error) {
	m := p.re.FindStringSubmatch(reply)
	if m == nil {
		return Pair{}, ErrNoMatch
	}

	var pair Pair
	for i := range pair {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Pair{}, fmt.Errorf("%w: group %d %q is not an integer", ErrNoMatch, i+1, m[i+1])
		}
		pair[i] = n
	}
	return pair, nil
}
