//go:build unit_test

package rewrite

import (
	"strings"
	"testing"
)

func baseContext(path, query string) *RequestContext {
	return &RequestContext{
		Scheme: "http",
		Host:   "h",
		Path:   path,
		Query:  query,
	}
}

func compile(t *testing.T, src string) *CompiledRules {
	t.Helper()
	cr, errs := Parse(src, ParseOptions{EngineOnDefault: true})
	if len(errs) != 0 {
		t.Fatalf("Parse() unexpected errors: %v", errs)
	}
	return cr
}

func TestEvaluate_plainRewrite(t *testing.T) {
	cr := compile(t, "RewriteRule ^old/(.*)$ /new/$1 [L]\n")
	res := Evaluate(baseContext("/old/x", ""), cr)
	if got := res.URI.String(); got != "http://h/new/x" {
		t.Errorf("URI = %q, want http://h/new/x", got)
	}
	if res.Cookies != nil && len(res.Cookies) != 0 {
		t.Errorf("expected no cookies, got %v", res.Cookies)
	}
	if res.StatusSet {
		t.Errorf("expected no status override")
	}
}

func TestEvaluate_chainedCondition(t *testing.T) {
	cr := compile(t, "RewriteCond %{HTTP_USER_AGENT} MSIE [NC]\nRewriteRule ^(.*)$ /ie/$1 [L]\n")

	ctx := baseContext("/foo", "")
	ctx.UserAgent = "Mozilla/4.0 (compatible; MSIE 6.0)"
	res := Evaluate(ctx, cr)
	if got := res.URI.String(); got != "http://h/ie/foo" {
		t.Errorf("MSIE: URI = %q, want http://h/ie/foo", got)
	}

	ctx2 := baseContext("/foo", "")
	ctx2.UserAgent = "curl/8.0"
	res2 := Evaluate(ctx2, cr)
	if got := res2.URI.String(); got != "http://h/foo" {
		t.Errorf("curl: URI = %q, want unchanged http://h/foo", got)
	}
}

func TestEvaluate_skipFlag(t *testing.T) {
	cr := compile(t, "RewriteRule ^a$ b [S=1]\nRewriteRule ^b$ c [L]\nRewriteRule ^b$ d [L]\n")
	res := Evaluate(baseContext("/a", ""), cr)
	if got := res.URI.String(); got != "http://h/d" {
		t.Errorf("URI = %q, want http://h/d", got)
	}
}

func TestEvaluate_queryStringAppend(t *testing.T) {
	cr := compile(t, "RewriteRule ^p$ /q?x=1 [QSA,L]\n")
	res := Evaluate(baseContext("/p", "y=2"), cr)
	if got := res.URI.String(); got != "http://h/q?x=1&y=2" {
		t.Errorf("URI = %q, want http://h/q?x=1&y=2", got)
	}
}

func TestEvaluate_cookieAndStatusOverride(t *testing.T) {
	cr := compile(t, "RewriteRule ^login$ /login [CO=sid:abc:3600,R=302,L]\n")
	res := Evaluate(baseContext("/login", ""), cr)
	if res.URI != res.OriginalURI {
		t.Errorf("URI = %+v, want unchanged from original %+v", res.URI, res.OriginalURI)
	}
	cookie, ok := res.Cookies["sid"]
	if !ok {
		t.Fatalf("expected cookie sid to be set, got %v", res.Cookies)
	}
	if cookie.Value != "abc" || cookie.TTL.Seconds() != 3600 {
		t.Errorf("cookie = %+v, want value=abc ttl=3600s", cookie)
	}
	if !res.StatusSet || res.Status != 302 {
		t.Errorf("Status = %d (set=%v), want 302", res.Status, res.StatusSet)
	}
}

func TestEvaluate_nextLoopTerminates(t *testing.T) {
	cr := compile(t, "RewriteRule ^(.*)$ $1x [N]\n")
	res := Evaluate(baseContext("/a", ""), cr)
	if !res.BudgetExhausted {
		t.Fatalf("expected BudgetExhausted, got false")
	}
	path := res.URI.Path
	if !strings.HasPrefix(path, "/a") {
		t.Fatalf("path = %q, want prefix /a", path)
	}
	tail := strings.TrimPrefix(path, "/a")
	if strings.Trim(tail, "x") != "" {
		t.Errorf("path tail = %q, want only x characters after /a", tail)
	}
	if len(tail) > defaultNextCap+1 {
		t.Errorf("tail length = %d, want at most %d", len(tail), defaultNextCap+1)
	}
}

func TestEvaluate_noCaseIsolatedToItsRule(t *testing.T) {
	cr := compile(t, "RewriteRule ^A$ /one [NC]\nRewriteRule ^B$ /two [L]\n")
	if !cr.Rules[0].MatchRegex.MatchString("a") {
		t.Errorf("expected first rule's NoCase match to fold case")
	}
	if cr.Rules[1].MatchRegex.MatchString("b") {
		t.Errorf("expected second rule's match to remain case-sensitive, NoCase must not leak")
	}
}

func TestEvaluate_terminatesWithoutNext(t *testing.T) {
	cr := compile(t, "RewriteRule ^z$ /never [L]\n")
	res := Evaluate(baseContext("/a", ""), cr)
	if res.BudgetExhausted {
		t.Errorf("expected no budget exhaustion when no rule matched")
	}
	if res.URI.String() != "http://h/a" {
		t.Errorf("URI = %q, want unchanged", res.URI.String())
	}
}

func TestEvaluate_isDeterministic(t *testing.T) {
	cr := compile(t, "RewriteRule ^old/(.*)$ /new/$1 [L]\n")
	ctx := baseContext("/old/x", "")
	a := Evaluate(ctx, cr)
	b := Evaluate(ctx, cr)
	if a.URI != b.URI {
		t.Errorf("expected deterministic URI, got %+v vs %+v", a.URI, b.URI)
	}
}

func TestEvaluate_noMatchLeavesURIUnchanged(t *testing.T) {
	cr := compile(t, "RewriteRule ^nomatch$ /x [L]\n")
	res := Evaluate(baseContext("/a/b", "q=1"), cr)
	if res.Changed() {
		t.Errorf("expected no-op Result, got %+v", res)
	}
}

func TestEvaluate_literalDashKeepsCandidateUnchanged(t *testing.T) {
	cr := compile(t, "RewriteRule ^a/(.*)$ - [E=matched:yes,L]\n")
	res := Evaluate(baseContext("/a/b", ""), cr)
	if got := res.URI.Path; got != "/a/b" {
		t.Errorf("Path = %q, want unchanged /a/b", got)
	}
	if res.EnvVars["matched"] != "yes" {
		t.Errorf("EnvVars = %v, want matched=yes", res.EnvVars)
	}
}
