package rewrite

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseError is returned for every malformed line encountered while
// parsing a rule source document. It always carries the offending line
// text, per spec.
type ParseError struct {
	Kind string // "unknown directive", "bad flag argument", "unknown flag", "bad regex"
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %q: %v", e.Kind, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %q", e.Kind, e.Line)
}

func (e *ParseError) Unwrap() error { return e.Err }

const defaultNextCap = 32000
const defaultCookieTTL = 86400 * time.Second
const defaultRedirectCode = 307

// CompiledRules is the immutable output of Parse. It is safe to share
// across concurrent evaluators and is published by atomically swapping a
// pointer to it (see package server/config).
type CompiledRules struct {
	Rules []*Rule
}

// ParseOptions configures Parse. ExtraRules are programmatically supplied
// rules prepended to the ones parsed from source (§6, "list of
// programmatic extra rules prepended to the file rules").
type ParseOptions struct {
	EngineOnDefault bool
	ExtraRules      []*Rule
}

// Parse parses a rule-source document (the grammar in spec.md §4.3) into
// a CompiledRules. It never panics and never stops at the first bad line:
// every line is attempted, and all errors encountered are collected and
// returned together alongside whatever rules did parse successfully. The
// caller (the configuration loader) decides whether any error rejects the
// whole document.
func Parse(source string, opts ParseOptions) (*CompiledRules, []error) {
	var rules []*Rule
	var errs []error

	engineOn := opts.EngineOnDefault

	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	for _, raw := range lines {
		line := stripComment(raw)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, " ", 2)
		directive := normalizeDirective(fields[0])
		var rest string
		if len(fields) > 1 {
			rest = strings.TrimSpace(fields[1])
		}

		switch directive {
		case "rewriteengine":
			on, err := parseEngineToggle(rest)
			if err != nil {
				errs = append(errs, &ParseError{Kind: "unknown directive", Line: raw, Err: err})
				continue
			}
			engineOn = on
		case "rewriterule":
			if !engineOn {
				continue
			}
			r, err := parseRuleLine(raw, rest, false)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rules = append(rules, r)
		case "rewritecond":
			if !engineOn {
				continue
			}
			r, err := parseRuleLine(raw, rest, true)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rules = append(rules, r)
		default:
			errs = append(errs, &ParseError{Kind: "unknown directive", Line: raw})
		}
	}

	all := append(append([]*Rule{}, opts.ExtraRules...), rules...)
	return &CompiledRules{Rules: dedupRules(all)}, errs
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

// normalizeDirective lower-cases a directive token and strips hyphens, so
// "RewriteRule", "rewrite-rule" and "REWRITE-RULE" all compare equal.
func normalizeDirective(tok string) string {
	return strings.ReplaceAll(strings.ToLower(tok), "-", "")
}

func parseEngineToggle(val string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "on", "yes", "true":
		return true, nil
	case "off", "no", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid RewriteEngine value %q", val)
	}
}

func parseRuleLine(raw, rest string, isCondition bool) (*Rule, error) {
	tokens := tokenize(rest)

	var flagsToken string
	if n := len(tokens); n > 0 && strings.HasPrefix(tokens[n-1], "[") {
		if !strings.HasSuffix(tokens[n-1], "]") {
			return nil, &ParseError{Kind: "unknown directive", Line: raw, Err: fmt.Errorf("unterminated flags")}
		}
		flagsToken = tokens[n-1]
		tokens = tokens[:n-1]
	}

	if isCondition && len(tokens) < 2 {
		return nil, &ParseError{Kind: "unknown directive", Line: raw, Err: fmt.Errorf("RewriteCond requires a condition input and a pattern")}
	}
	if !isCondition && len(tokens) < 1 {
		return nil, &ParseError{Kind: "unknown directive", Line: raw, Err: fmt.Errorf("RewriteRule requires a pattern")}
	}

	flags, err := parseFlags(raw, flagsToken)
	if err != nil {
		return nil, err
	}

	if isCondition {
		conditionInput, pattern := tokens[0], tokens[1]
		r, err := NewCondition(conditionInput, pattern, flags)
		if err != nil {
			return nil, asParseError(raw, err)
		}
		return r, nil
	}

	pattern := tokens[0]
	replacement := defaultReplacement
	if len(tokens) > 1 {
		replacement = tokens[1]
	}
	r, err := NewRule(pattern, replacement, flags)
	if err != nil {
		return nil, asParseError(raw, err)
	}
	return r, nil
}

func asParseError(raw string, err error) error {
	if _, ok := err.(*BadRegexError); ok {
		return &ParseError{Kind: "bad regex", Line: raw, Err: err}
	}
	return &ParseError{Kind: "unknown flag", Line: raw, Err: err}
}

// tokenize splits a directive's remainder on whitespace, honoring
// double-quoted tokens (outer quotes stripped, internal whitespace kept).
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case (c == ' ' || c == '\t') && !inQuote:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func parseFlags(raw, token string) ([]Flag, error) {
	if token == "" {
		return nil, nil
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(token, "["), "]")
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return nil, nil
	}

	var flags []Flag
	for _, entry := range strings.Split(inner, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		f, err := parseFlagEntry(entry)
		if err != nil {
			kind := "unknown flag"
			var fpe *flagParseErr
			if errors.As(err, &fpe) {
				kind = fpe.kind
			}
			return nil, &ParseError{Kind: kind, Line: raw, Err: err}
		}
		flags = append(flags, f)
	}
	return flags, nil
}

type flagParseErr struct {
	kind string
	err  error
}

func (e *flagParseErr) Error() string { return e.err.Error() }

func badArg(format string, args ...any) error {
	return &flagParseErr{kind: "bad flag argument", err: fmt.Errorf(format, args...)}
}

func unknownFlag(name string) error {
	return &flagParseErr{kind: "unknown flag", err: fmt.Errorf("unknown flag %q", name)}
}

func parseFlagEntry(entry string) (Flag, error) {
	name, arg, hasArg := strings.Cut(entry, "=")
	name = strings.ToUpper(strings.TrimSpace(name))

	switch name {
	case "C":
		return Flag{Kind: KindChained}, nil
	case "CO":
		if !hasArg {
			return Flag{}, badArg("CO requires name:value[:ttl]")
		}
		parts := strings.Split(arg, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return Flag{}, badArg("CO requires name:value[:ttl], got %q", arg)
		}
		ttl := defaultCookieTTL
		if len(parts) == 3 {
			secs, err := strconv.Atoi(parts[2])
			if err != nil {
				return Flag{}, badArg("CO ttl must be an integer, got %q", parts[2])
			}
			ttl = time.Duration(secs) * time.Second
		}
		return Flag{Kind: KindCookie, Name: parts[0], Value: parts[1], TTL: ttl}, nil
	case "E":
		if !hasArg || strings.Count(arg, ":") != 1 {
			return Flag{}, badArg("E requires exactly one name:value pair, got %q", arg)
		}
		n, v, _ := strings.Cut(arg, ":")
		return Flag{Kind: KindEnvVar, Name: n, Value: v}, nil
	case "F":
		return Flag{Kind: KindStatus, Code: 403}, nil
	case "G":
		return Flag{Kind: KindStatus, Code: 410}, nil
	case "L", "END":
		return Flag{Kind: KindLast}, nil
	case "N":
		next := defaultNextCap
		if hasArg {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return Flag{}, badArg("N count must be an integer, got %q", arg)
			}
			next = n
		}
		return Flag{Kind: KindNext, Count: next}, nil
	case "NC":
		return Flag{Kind: KindNoCase}, nil
	case "NE":
		return Flag{Kind: KindNoEscape}, nil
	case "NQ", "QSD":
		return Flag{Kind: KindNoQuery}, nil
	case "R":
		code := defaultRedirectCode
		if hasArg {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return Flag{}, badArg("R code must be an integer, got %q", arg)
			}
			code = n
		}
		return Flag{Kind: KindStatus, Code: code}, nil
	case "QSA":
		return Flag{Kind: KindQueryAppend}, nil
	case "S":
		if !hasArg {
			return Flag{}, badArg("S requires a count")
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return Flag{}, badArg("S count must be an integer, got %q", arg)
		}
		return Flag{Kind: KindSkip, Count: n}, nil
	case "SS":
		if !hasArg {
			return Flag{}, badArg("SS requires a server string")
		}
		return Flag{Kind: KindServerString, Value: arg}, nil
	case "T":
		mime := strings.ToLower(arg)
		if mime == "" {
			mime = "text/plain"
		}
		return Flag{Kind: KindMimeType, Value: mime}, nil
	case "BNP":
		return Flag{Kind: KindNoPlus}, nil
	default:
		return Flag{}, unknownFlag(name)
	}
}

func dedupRules(rules []*Rule) []*Rule {
	out := make([]*Rule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		k := r.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
