package rewrite

import "time"

// Cookie is a cookie the engine wants the server to emit. Expiration is
// computed by the caller as request_time + TTL (§4.6).
type Cookie struct {
	Value string
	TTL   time.Duration
}

// Result is the Evaluator's output: the rewritten URI plus every
// side-effect the rules produced. A Result with an unchanged URI, empty
// maps, and no overrides set is a no-op (§6).
type Result struct {
	URI         URI
	OriginalURI URI

	Cookies map[string]Cookie
	EnvVars map[string]string

	ServerString    string
	ServerStringSet bool

	MimeType    string
	MimeTypeSet bool

	Status    int
	StatusSet bool

	// BudgetExhausted is set when the restart budget reached zero mid
	// evaluation (§7). It is not an error; the Result is still valid and
	// usable as-is.
	BudgetExhausted bool
}

// Changed reports whether applying this Result would do anything
// observable to the server response.
func (r *Result) Changed() bool {
	return r.URI != r.OriginalURI ||
		len(r.Cookies) > 0 ||
		len(r.EnvVars) > 0 ||
		r.ServerStringSet ||
		r.MimeTypeSet ||
		r.StatusSet
}
