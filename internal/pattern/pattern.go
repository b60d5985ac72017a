// Package pattern implements the object-name pattern language: a
// comma-separated union of slash-segmented globs where `+` matches exactly
// one segment and `*` matches the remainder of the name.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled, immutable pattern. Safe for concurrent use.
type Pattern struct {
	src      string
	re       *regexp.Regexp
	system   map[string]struct{}
	wildcard bool
}

// Compile parses and validates src. Validation is strict: empty patterns,
// empty sub-patterns, empty parts, a non-final `*`, and wildcards mixed
// with literal text inside one part are all rejected.
func Compile(src string) (*Pattern, error) {
	if src == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	subs := strings.Split(src, ",")
	alts := make([]string, 0, len(subs))
	var system map[string]struct{}
	wildcard := false

	for _, sub := range subs {
		if sub == "" {
			return nil, fmt.Errorf("pattern %q: empty sub-pattern", src)
		}

		parts := strings.Split(sub, "/")
		segs := make([]string, 0, len(parts))
		literal := true

		for i, part := range parts {
			switch {
			case part == "":
				return nil, fmt.Errorf("pattern %q: empty part in %q", src, sub)
			case part == "+":
				segs = append(segs, "[^/]+")
				literal = false
				wildcard = true
			case part == "*":
				if i != len(parts)-1 {
					return nil, fmt.Errorf("pattern %q: * must be the final part of %q", src, sub)
				}
				segs = append(segs, ".*")
				literal = false
				wildcard = true
			case strings.ContainsAny(part, "+*"):
				return nil, fmt.Errorf("pattern %q: wildcard must stand alone in part %q", src, part)
			default:
				segs = append(segs, regexp.QuoteMeta(part))
			}
		}

		// Names starting with $ are matchable only through an exact
		// literal sub-pattern, never through wildcards.
		if literal && strings.HasPrefix(sub, "$") {
			if system == nil {
				system = make(map[string]struct{})
			}
			system[sub] = struct{}{}
		}

		alts = append(alts, "(?:^"+strings.Join(segs, "/")+"$)")
	}

	re, err := regexp.Compile(strings.Join(alts, "|"))
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", src, err)
	}

	return &Pattern{src: src, re: re, system: system, wildcard: wildcard}, nil
}

// Matches reports whether name matches any sub-pattern.
func (p *Pattern) Matches(name string) bool {
	if strings.HasPrefix(name, "$") {
		_, ok := p.system[name]
		return ok
	}
	return p.re.MatchString(name)
}

// String returns the pattern source text.
func (p *Pattern) String() string {
	return p.src
}

// Wildcard reports whether any sub-pattern contains `+` or `*`.
func (p *Pattern) Wildcard() bool {
	return p.wildcard
}
