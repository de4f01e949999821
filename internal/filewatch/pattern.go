package filewatch

import (
	"path"
	"strings"

	"github.com/tidwall/match"
)

// Watch patterns registered for the YAML server.
const (
	// YAMLPattern matches .yaml, .yml, .eyaml and .eyml files.
	YAMLPattern = "**/*.?(e)y?(a)ml"
	// JSONPattern matches .json files.
	JSONPattern = "**/*.json"
)

// Pattern is a compiled glob. It supports "*" and "?" wildcards, a leading
// "**/" for any directory depth, and "?(x)" optional groups.
type Pattern struct {
	source   string
	anyDepth bool
	alts     []string
}

// DefaultPatterns returns the YAML and JSON watch patterns.
func DefaultPatterns() []*Pattern {
	return []*Pattern{MustCompile(YAMLPattern), MustCompile(JSONPattern)}
}

// Compile parses a glob pattern.
func Compile(glob string) (*Pattern, error) {
	p := &Pattern{source: glob}

	rest := glob
	if strings.HasPrefix(rest, "**/") {
		p.anyDepth = true
		rest = rest[len("**/"):]
	}

	alts, err := expandOptional(rest)
	if err != nil {
		return nil, err
	}
	p.alts = alts
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(glob string) *Pattern {
	p, err := Compile(glob)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source glob.
func (p *Pattern) String() string {
	return p.source
}

// Match reports whether the slash-separated relative path matches.
func (p *Pattern) Match(rel string) bool {
	rel = strings.TrimPrefix(rel, "./")
	for _, alt := range p.alts {
		if !strings.Contains(alt, "/") && p.anyDepth {
			if matchSegment(path.Base(rel), alt) {
				return true
			}
			continue
		}
		if matchPath(rel, alt) {
			return true
		}
		if p.anyDepth {
			// Try every directory suffix of rel.
			for i := 0; i < len(rel); i++ {
				if rel[i] == '/' && matchPath(rel[i+1:], alt) {
					return true
				}
			}
		}
	}
	return false
}

// matchSegment matches a single path segment. match.Match lets "*" cross
// "/", so segments with a slash never match.
func matchSegment(name, pattern string) bool {
	return !strings.Contains(name, "/") && match.Match(name, pattern)
}

// matchPath matches segment by segment.
func matchPath(rel, pattern string) bool {
	names := strings.Split(rel, "/")
	parts := strings.Split(pattern, "/")
	if len(names) != len(parts) {
		return false
	}
	for i := range parts {
		if !matchSegment(names[i], parts[i]) {
			return false
		}
	}
	return true
}

// expandOptional expands every "?(x)" group into the variants with and
// without x.
func expandOptional(glob string) ([]string, error) {
	start := strings.Index(glob, "?(")
	if start < 0 {
		return []string{glob}, nil
	}
	end := strings.IndexByte(glob[start:], ')')
	if end < 0 {
		return nil, &PatternError{Pattern: glob, Reason: "unterminated ?( group"}
	}
	end += start

	prefix, group, suffix := glob[:start], glob[start+2:end], glob[end+1:]
	tails, err := expandOptional(suffix)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, 2*len(tails))
	for _, t := range tails {
		out = append(out, prefix+group+t, prefix+t)
	}
	return out, nil
}

// PatternError reports an invalid glob.
type PatternError struct {
	Pattern string
	Reason  string
}

func (e *PatternError) Error() string {
	return "invalid pattern " + e.Pattern + ": " + e.Reason
}
