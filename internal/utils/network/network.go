package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single HTTP exchange. Archive downloads run large
// payloads, so the per-request ceiling is generous; connection setup is not.
const DefaultTimeout = 10 * time.Minute

// NewSecureHTTPClient returns an HTTP client with bounded dial/TLS handshake
// times and a modern TLS floor. Every network fetch in the provisioner goes
// through this client so no single transfer can hang a build forever.
func NewSecureHTTPClient() *http.Client {
	return NewSecureHTTPClientWithTimeout(DefaultTimeout)
}

// NewSecureHTTPClientWithTimeout is NewSecureHTTPClient with a caller-chosen
// overall request timeout.
func NewSecureHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
