package util

import (
	"net/http"
	"time"

	"github.com/carlmjohnson/versioninfo"
)

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone, headers may be shared with the caller
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns the client used to talk to devices. The timeout is an
// upper bound, every call also carries its own context deadline.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: "zeroexport/" + versioninfo.Short(),
		},
		Timeout: timeout,
	}
}
