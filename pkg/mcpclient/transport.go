package mcpclient

import "net/http"

// HeaderRoundTripper adds fixed headers to every request.
type HeaderRoundTripper struct {
	Headers   map[string]string
	Transport http.RoundTripper
}

// NewHeaderRoundTripper wraps transport, or http.DefaultTransport when nil.
func NewHeaderRoundTripper(headers map[string]string, transport http.RoundTripper) *HeaderRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HeaderRoundTripper{
		Headers:   headers,
		Transport: transport,
	}
}

func (h *HeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(h.Headers) > 0 {
		req = req.Clone(req.Context())
		for key, value := range h.Headers {
			req.Header.Set(key, value)
		}
	}
	return h.Transport.RoundTrip(req)
}
