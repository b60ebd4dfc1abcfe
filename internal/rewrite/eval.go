package rewrite

import (
	"net/url"
	"strings"
)

// evalState holds the Evaluator's local, per-request mutable state (§4.5).
type evalState struct {
	uri URI

	cookies map[string]Cookie
	envVars map[string]string

	serverString    string
	serverStringSet bool
	mimeType        string
	mimeTypeSet     bool
	status          int
	statusSet       bool

	chained    bool
	previousOK bool
	skip       int

	restartBudget   int
	budgetExhausted bool
}

// Evaluate runs the compiled rule list against ctx and returns the
// Rewrite Result. Evaluate is pure and safe for concurrent use: it never
// mutates ctx or rules, and all of its working state is local.
func Evaluate(ctx *RequestContext, rules *CompiledRules) *Result {
	rs := rules.Rules
	st := &evalState{
		uri:           ctx.uri(),
		cookies:       map[string]Cookie{},
		envVars:       map[string]string{},
		restartBudget: maxNextCap(rs),
	}

	// Hard upper bound on total rule evaluations, per §5's resource
	// accounting (|RS| * (1 + restart_budget)). This is a backstop only:
	// the restart-budget bookkeeping below already guarantees termination
	// well inside this ceiling.
	maxSteps := len(rs)*(st.restartBudget+1) + len(rs) + 1

	i := 0
	steps := 0
	for i < len(rs) && steps < maxSteps {
		steps++
		r := rs[i]

		if st.skip > 0 {
			st.skip--
			i++
			continue
		}

		restart, last, halt := st.evalRule(ctx, r)
		if halt {
			st.budgetExhausted = true
			break
		}
		if restart {
			i = 0
			continue
		}
		i++
		if last {
			break
		}
	}

	return st.result(ctx)
}

func maxNextCap(rules []*Rule) int {
	max := 0
	for _, r := range rules {
		if f, ok := firstFlag(r.Flags, KindNext); ok && f.Count > max {
			max = f.Count
		}
	}
	return max
}

// evalRule evaluates a single rule and returns (restart, last, halt).
//
// A condition always chains to whatever follows it, the same way a plain
// Chained-flagged rule does: st.chained becomes true after any Condition
// or any rule carrying the C flag, and the next entry is skipped entirely
// (left at previous_ok=false) if that chain predecessor did not match.
func (st *evalState) evalRule(ctx *RequestContext, r *Rule) (restart, last, halt bool) {
	gated := st.chained && !st.previousOK

	switch {
	case gated:
		st.previousOK = false
	case r.IsCondition:
		input := ExpandVariables(r.ConditionInput, ctx)
		st.previousOK = r.MatchRegex.MatchString(input)
	default:
		candidate := nonConditionInput(st.uri, r)
		idx := r.MatchRegex.FindStringSubmatchIndex(candidate)
		if idx != nil {
			st.uri = rewriteURI(st.uri, r, candidate, idx)
			st.previousOK = true
		} else {
			st.previousOK = false
		}
	}

	st.chained = r.IsCondition || hasFlag(r.Flags, KindChained)

	if gated || !st.previousOK {
		return false, false, false
	}

	for _, f := range r.Flags {
		switch f.Kind {
		case KindCookie:
			st.cookies[f.Name] = Cookie{Value: f.Value, TTL: f.TTL}
		case KindEnvVar:
			st.envVars[f.Name] = f.Value
		case KindServerString:
			st.serverString, st.serverStringSet = f.Value, true
		case KindMimeType:
			st.mimeType, st.mimeTypeSet = f.Value, true
		case KindStatus:
			st.status, st.statusSet = f.Code, true
		case KindSkip:
			st.skip = f.Count
		case KindNext:
			if st.restartBudget <= 0 {
				halt = true
			} else {
				st.restartBudget--
				restart = true
			}
		case KindLast:
			last = true
		}
	}

	return restart, last, halt
}

// nonConditionInput builds the string a non-condition rule matches
// against: the percent-decoded path, with one leading slash stripped. The
// query string is never part of the match target (patterns are written
// against the path; testing the query belongs to a RewriteCond against
// %{QUERY_STRING}). NoQuery/QSD additionally suppresses carrying the
// original query into the rewritten URL, overriding QueryAppend.
func nonConditionInput(uri URI, r *Rule) string {
	s := uri.Path
	if decoded, err := url.PathUnescape(s); err == nil {
		s = decoded
	}
	return strings.TrimPrefix(s, "/")
}

// expandBackrefs substitutes $0..$9 in tmpl with the corresponding
// submatch of candidate, per spec.md's "output_expression ... with $0..$9
// and regex backrefs". Deliberately not regexp.Regexp.ExpandString: Go's
// Expand treats "$1x" as a lookup for a group named "1x", which breaks
// the plain Apache-style "$1" followed by literal text.
func expandBackrefs(tmpl, candidate string, idx []int) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c == '$' && i+1 < len(tmpl) && tmpl[i+1] >= '0' && tmpl[i+1] <= '9' {
			n := int(tmpl[i+1] - '0')
			lo, hi := 2*n, 2*n+1
			if hi < len(idx) && idx[lo] >= 0 {
				b.WriteString(candidate[idx[lo]:idx[hi]])
			}
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// rewriteURI performs the output-expression substitution and the URL
// composition rules (absolute promotion, query append, fragment
// reattachment, plus-for-space) described in §4.5.
func rewriteURI(current URI, r *Rule, candidate string, idx []int) URI {
	var sub string
	if r.OutputExpression == "-" {
		sub = candidate
	} else {
		sub = expandBackrefs(r.OutputExpression, candidate, idx)
	}

	if !strings.Contains(sub, "://") {
		trimmed := strings.TrimPrefix(sub, "/")
		sub = current.Scheme + "://" + current.Host + "/" + trimmed
	}

	parsed, err := url.Parse(sub)
	if err != nil {
		// Evaluation errors are benign per §7: treat as if nothing
		// changed.
		return current
	}

	query := parsed.RawQuery
	if hasFlag(r.Flags, KindQueryAppend) && !hasFlag(r.Flags, KindNoQuery) && current.Query != "" {
		if query != "" {
			query = query + "&" + current.Query
		} else {
			query = current.Query
		}
	}

	newURI := URI{
		Scheme:   parsed.Scheme,
		Host:     parsed.Host,
		Path:     parsed.Path,
		Query:    query,
		Fragment: current.Fragment,
	}

	if !hasFlag(r.Flags, KindNoPlus) {
		newURI.Path = strings.ReplaceAll(newURI.Path, " ", "+")
		newURI.Query = strings.ReplaceAll(newURI.Query, " ", "+")
	}

	return newURI
}

func (st *evalState) result(ctx *RequestContext) *Result {
	return &Result{
		URI:             st.uri,
		OriginalURI:     ctx.uri(),
		Cookies:         st.cookies,
		EnvVars:         st.envVars,
		ServerString:    st.serverString,
		ServerStringSet: st.serverStringSet,
		MimeType:        st.mimeType,
		MimeTypeSet:     st.mimeTypeSet,
		Status:          st.status,
		StatusSet:       st.statusSet,
		BudgetExhausted: st.budgetExhausted,
	}
}
