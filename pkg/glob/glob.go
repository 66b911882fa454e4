// Package glob implements the single-wildcard pattern language used by
// findKeys (spec §4.1, §6): a string of literal characters and '*', where
// '*' matches any run of characters, including none. Unlike path.Match,
// '*' here matches across any character, including '/', because keys are
// opaque strings rather than filesystem paths.
//
// No pack example ships this exact semantic, so it's implemented directly
// on regexp rather than adopting a third-party glob library — see
// DESIGN.md for why.
package glob

import (
	"regexp"
	"strings"
	"sync"
)

// Pattern is a compiled glob pattern, safe for concurrent use.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

var cache sync.Map // string -> *Pattern

// Compile translates pattern into a matcher. Compiled patterns are cached
// process-wide since findKeys is typically called with a small, repeated
// set of patterns.
func Compile(pattern string) *Pattern {
	if v, ok := cache.Load(pattern); ok {
		return v.(*Pattern)
	}
	p := &Pattern{raw: pattern, re: regexp.MustCompile(toRegexp(pattern))}
	actual, _ := cache.LoadOrStore(pattern, p)
	return actual.(*Pattern)
}

// Match reports whether key satisfies the pattern.
func (p *Pattern) Match(key string) bool {
	return p.re.MatchString(key)
}

// String returns the original glob pattern.
func (p *Pattern) String() string {
	return p.raw
}

// RegexpString returns the anchored regular expression this pattern
// compiles to, for backends (e.g. MongoDB's $regex) that want a regex
// rather than an in-process matcher.
func (p *Pattern) RegexpString() string {
	return p.re.String()
}

// Match is shorthand for Compile(pattern).Match(key).
func Match(pattern, key string) bool {
	return Compile(pattern).Match(key)
}

// ToLike translates a glob pattern into a SQL LIKE pattern, per spec §4.1:
// "backends translate '*' -> '%' for SQL LIKE". Literal '%' and '_' in the
// source pattern are escaped with the given escape character so they are
// not mistaken for LIKE metacharacters.
func ToLike(pattern string, escape byte) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteByte('%')
		case '%', '_', escape:
			b.WriteByte(escape)
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// toRegexp anchors the translated pattern so Match behaves like a full,
// not partial, match.
func toRegexp(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '*' {
			b.WriteString(".*")
			continue
		}
		if isRegexpMeta(c) {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('$')
	return b.String()
}

func isRegexpMeta(c byte) bool {
	switch c {
	case '.', '+', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
		return true
	default:
		return false
	}
}
