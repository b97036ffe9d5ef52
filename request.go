package haul

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent is sent with every request.
const DefaultUserAgent = "Haul/1.0"

// DefaultClient is the http.Client used when the engine is not given one.
// The overall request timeout stays unset: large transfers take arbitrarily
// long. Dial, handshake and header phases carry their own bounds; a silent
// connection mid-body is bounded by the session's stall timeout.
var DefaultClient = &http.Client{
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	},
}

// newRequest builds the GET for one transfer attempt, attaching the range
// header when resuming and the bearer credential when present.
func newRequest(ctx context.Context, url string, offset int64, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", DefaultUserAgent)

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}
