package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const DefaultPort = "8130"

type Authorizer interface {
	TrustsCert(fingerprint string) bool
}

type AuthorizerFunc func(fingerprint string) bool

func (a AuthorizerFunc) TrustsCert(fingerprint string) bool { return a(fingerprint) }

// Client is an http client that presents its own certificate and only talks to
// servers whose certificate fingerprint is trusted.
type Client struct {
	*http.Client
	fingerprint string
}

// NewClient returns a client with the given overall timeout.
// A zero timeout is useful for long-lived streams.
func NewClient(cert tls.Certificate, timeout time.Duration, auth Authorizer) *Client {
	c := &Client{
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSHandshakeTimeout: time.Second * 15,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, // the fingerprint is verified in VerifyPeerCertificate
					Certificates:       []tls.Certificate{cert},
					VerifyPeerCertificate: func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
						for _, cert := range rawCerts {
							if auth.TrustsCert(GetCertFingerprint(cert)) {
								return nil
							}
						}

						e := &ErrUntrustedServer{Fingerprint: "unknown"}
						if len(rawCerts) > 0 {
							e.Fingerprint = GetCertFingerprint(rawCerts[0])
						}
						return e
					},
				},
			},
		},
	}
	if len(cert.Certificate) > 0 {
		c.fingerprint = GetCertFingerprint(cert.Certificate[0])
	}
	return c
}

func (c *Client) GET(ctx context.Context, url string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

func (c *Client) PUT(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, url, body)
}

func (c *Client) POST(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, url, body)
}

func (c *Client) DELETE(ctx context.Context, url string) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, url, nil)
}

// Do sends the request and turns any non-2xx response into an error.
// The caller closes the body of successful responses.
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, &ErrUntrustedClient{Fingerprint: c.fingerprint}
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*64))
	return nil, fmt.Errorf("server error status: %d, body: %s", resp.StatusCode, msg)
}

// NewServer returns a server that requires a client certificate on every connection.
// Trust is established per route by WithAuth.
func NewServer(addr string, cert tls.Certificate, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second * 15,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequireAnyClientCert,
		},
	}
}

// UrlPrefix returns the base url of the server at the given address, adding the default port if needed.
func UrlPrefix(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	return "https://" + addr
}

type ErrUntrustedServer struct {
	Fingerprint string
}

func (e *ErrUntrustedServer) Error() string { return "untrusted server certificate" }

type ErrUntrustedClient struct {
	Fingerprint string
}

func (e *ErrUntrustedClient) Error() string { return "the server does not trust this client certificate" }
