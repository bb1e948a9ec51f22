// Package httpclient configures the HTTP clients used to call upstream services.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewOutbound creates the client for metadata calls.
func NewOutbound() *http.Client {
	return &http.Client{
		Transport: newTransport(),
		Timeout:   30 * time.Second,
	}
}

// NewDownload creates the client for streaming content fetches. No overall
// timeout: mirror downloads can legitimately take minutes, cancellation is
// driven by the caller's context.
func NewDownload() *http.Client {
	return &http.Client{Transport: newTransport()}
}
