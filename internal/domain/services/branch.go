package services

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchBranch reports whether branch matches a single filter pattern.
//
// Pattern syntax follows hosted-CI branch filters: `*` matches any run of
// characters except `/`, `**` matches anything, `?` and `+` make the
// preceding character optional or repeatable, and `[...]` is a character class.
func MatchBranch(pattern, branch string) (bool, error) {
	re, err := compileBranchPattern(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(branch), nil
}

// MatchBranches evaluates an ordered filter list. Patterns prefixed with `!`
// exclude; the last matching pattern decides. An empty list admits every branch.
func MatchBranches(patterns []string, branch string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	matched := false
	for _, p := range patterns {
		negate := strings.HasPrefix(p, "!")
		ok, err := MatchBranch(strings.TrimPrefix(p, "!"), branch)
		if err != nil {
			return false, err
		}
		if ok {
			matched = !negate
		}
	}
	return matched, nil
}

func compileBranchPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty branch pattern", ErrInvalidWorkflow)
	}
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?', '+':
			if i == 0 {
				return nil, fmt.Errorf("%w: %q has nothing before %q", ErrInvalidWorkflow, pattern, c)
			}
			b.WriteByte(c)
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated character class in %q", ErrInvalidWorkflow, pattern)
			}
			b.WriteString(pattern[i : i+end+1])
			i += end
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: branch pattern %q: %v", ErrInvalidWorkflow, pattern, err)
	}
	return re, nil
}
