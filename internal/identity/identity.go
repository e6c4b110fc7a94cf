// Package identity resolves the acting user for a request. Anonymous
// visitors resolve to the empty string, which downstream code treats as
// "no per-user state".
package identity

import "net/http"

// HeaderUserID carries the authenticated user ID forward from the edge.
const HeaderUserID = "X-User-ID"

// Provider resolves the current user for a request.
type Provider interface {
	CurrentUserID(req *http.Request) string
}

// HeaderProvider reads the user ID from a trusted request header. The
// gateway strips the header from untrusted traffic before it reaches us.
type HeaderProvider struct {
	header string
}

// NewHeaderProvider returns a provider reading the given header, or
// HeaderUserID when empty.
func NewHeaderProvider(header string) *HeaderProvider {
	if header == "" {
		header = HeaderUserID
	}
	return &HeaderProvider{header: header}
}

func (p *HeaderProvider) CurrentUserID(req *http.Request) string {
	return req.Header.Get(p.header)
}

// Static always resolves to a fixed user ID. Used in tests.
type Static string

func (s Static) CurrentUserID(*http.Request) string { return string(s) }
