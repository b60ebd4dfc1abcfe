package rewrite

import (
	"fmt"
	"regexp"
)

// BadRegexError is returned when a rule or condition's pattern fails to
// compile.
type BadRegexError struct {
	Pattern string
	Err     error
}

func (e *BadRegexError) Error() string {
	return fmt.Sprintf("bad regex %q: %v", e.Pattern, e.Err)
}

func (e *BadRegexError) Unwrap() error { return e.Err }

// UnknownFlagKindError is returned by NewRule/NewCondition when the flag
// collection contains a Flag whose Kind is not one of the recognised
// variants in flag.go.
type UnknownFlagKindError struct {
	Kind FlagKind
}

func (e *UnknownFlagKindError) Error() string {
	return fmt.Sprintf("unrecognised flag kind %d", e.Kind)
}

// Rule is an immutable match-and-rewrite entry, or — when IsCondition is
// set (see NewCondition) — a condition gating the rule(s) that follow it.
type Rule struct {
	Pattern          string
	MatchRegex       *regexp.Regexp
	OutputExpression string
	ConditionInput   string
	IsCondition      bool
	Flags            []Flag
}

const (
	defaultPattern     = "^$"
	defaultReplacement = "$0"
)

// NewRule constructs a Rule from a RewriteRule directive's pattern,
// replacement and flags. The regex is validated by trial compilation,
// case-folded when the flag set carries NoCase. Duplicate flags are
// removed, first occurrence wins their position.
func NewRule(pattern, replacement string, flags []Flag) (*Rule, error) {
	return newRule("", pattern, replacement, false, flags)
}

// NewCondition constructs a Rule representing a RewriteCond directive.
func NewCondition(conditionInput, pattern string, flags []Flag) (*Rule, error) {
	return newRule(conditionInput, pattern, "", true, flags)
}

func newRule(conditionInput, pattern, replacement string, isCondition bool, flags []Flag) (*Rule, error) {
	if pattern == "" {
		pattern = defaultPattern
	}
	if !isCondition && replacement == "" {
		replacement = defaultReplacement
	}

	deduped := dedupFlags(flags)
	for _, f := range deduped {
		if !f.Kind.known() {
			return nil, &UnknownFlagKindError{Kind: f.Kind}
		}
	}

	compilePattern := pattern
	if hasFlag(deduped, KindNoCase) {
		compilePattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(compilePattern)
	if err != nil {
		return nil, &BadRegexError{Pattern: pattern, Err: err}
	}

	return &Rule{
		Pattern:          pattern,
		MatchRegex:       re,
		OutputExpression: replacement,
		ConditionInput:   conditionInput,
		IsCondition:      isCondition,
		Flags:            deduped,
	}, nil
}

func dedupFlags(flags []Flag) []Flag {
	out := make([]Flag, 0, len(flags))
	seen := make(map[Flag]bool, len(flags))
	for _, f := range flags {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func hasFlag(flags []Flag, k FlagKind) bool {
	for _, f := range flags {
		if f.Kind == k {
			return true
		}
	}
	return false
}

func firstFlag(flags []Flag, k FlagKind) (Flag, bool) {
	for _, f := range flags {
		if f.Kind == k {
			return f, true
		}
	}
	return Flag{}, false
}

// key returns a comparable summary used to detect structurally identical
// rules for the parser's dedup pass.
func (r *Rule) key() string {
	s := r.ConditionInput + "\x00" + r.Pattern + "\x00" + r.OutputExpression
	for _, f := range r.Flags {
		s += "\x00" + f.String() + fmt.Sprintf(":%d:%d:%d:%s", f.Code, f.Count, f.TTL, f.Name+"="+f.Value)
	}
	return s
}
