//go:build unit_test

package rewrite

import (
	"errors"
	"testing"
)

func TestNewRule_defaults(t *testing.T) {
	r, err := NewRule("", "", nil)
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if r.Pattern != defaultPattern {
		t.Errorf("Pattern = %q, want %q", r.Pattern, defaultPattern)
	}
	if r.OutputExpression != defaultReplacement {
		t.Errorf("OutputExpression = %q, want %q", r.OutputExpression, defaultReplacement)
	}
}

func TestNewRule_badRegex(t *testing.T) {
	_, err := NewRule("(unterminated", "-", nil)
	var badRegex *BadRegexError
	if !errors.As(err, &badRegex) {
		t.Fatalf("expected *BadRegexError, got %v", err)
	}
}

func TestNewRule_noCaseFoldsPattern(t *testing.T) {
	r, err := NewRule("^ABC$", "-", []Flag{{Kind: KindNoCase}})
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if !r.MatchRegex.MatchString("abc") {
		t.Errorf("expected case-insensitive match against %q", r.MatchRegex.String())
	}
}

func TestNewRule_unknownFlagKind(t *testing.T) {
	_, err := NewRule("^$", "-", []Flag{{Kind: FlagKind(999)}})
	var unk *UnknownFlagKindError
	if !errors.As(err, &unk) {
		t.Fatalf("expected *UnknownFlagKindError, got %v", err)
	}
}

func TestNewRule_dedupsFlags(t *testing.T) {
	r, err := NewRule("^$", "-", []Flag{{Kind: KindLast}, {Kind: KindLast}, {Kind: KindNoCase}})
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if len(r.Flags) != 2 {
		t.Fatalf("Flags = %v, want 2 entries", r.Flags)
	}
}

func TestNewCondition_isCondition(t *testing.T) {
	r, err := NewCondition("%{HTTP_HOST}", "^www\\.", nil)
	if err != nil {
		t.Fatalf("NewCondition() error = %v", err)
	}
	if !r.IsCondition {
		t.Errorf("expected IsCondition = true")
	}
	if r.ConditionInput != "%{HTTP_HOST}" {
		t.Errorf("ConditionInput = %q", r.ConditionInput)
	}
}

func TestRule_key_distinguishesRules(t *testing.T) {
	a, _ := NewRule("^a$", "/b", []Flag{{Kind: KindLast}})
	b, _ := NewRule("^a$", "/b", []Flag{{Kind: KindLast}})
	c, _ := NewRule("^a$", "/c", []Flag{{Kind: KindLast}})
	if a.key() != b.key() {
		t.Errorf("expected identical rules to produce identical keys")
	}
	if a.key() == c.key() {
		t.Errorf("expected differing rules to produce differing keys")
	}
}

func TestHasFlag_firstFlag(t *testing.T) {
	flags := []Flag{{Kind: KindSkip, Count: 2}, {Kind: KindLast}}
	if !hasFlag(flags, KindLast) {
		t.Errorf("expected hasFlag to find KindLast")
	}
	if hasFlag(flags, KindNoCase) {
		t.Errorf("expected hasFlag to not find KindNoCase")
	}
	f, ok := firstFlag(flags, KindSkip)
	if !ok || f.Count != 2 {
		t.Errorf("firstFlag(KindSkip) = %v, %v", f, ok)
	}
}
