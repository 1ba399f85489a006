package rpc

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration(t *testing.T) {
	ctx := context.Background()

	svrCert, svrFprint, err := GenCertificate(t.TempDir())
	require.NoError(t, err)

	cliCert, cliFprint, err := GenCertificate(t.TempDir())
	require.NoError(t, err)

	trust := func(fingerprint string) Authorizer {
		return AuthorizerFunc(func(f string) bool { return f == fingerprint })
	}
	deny := AuthorizerFunc(func(string) bool { return false })
	empty := func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {}

	tests := []struct {
		Name                             string
		Fn                               func(*testing.T, *Client, string)
		Handler                          httprouter.Handle
		AuthorizeClient, AuthorizeServer Authorizer
	}{
		{
			Name: "happy path",
			Fn: func(t *testing.T, cli *Client, addr string) {
				resp, err := cli.GET(ctx, "https://"+addr+"/test")
				require.NoError(t, err)
				defer resp.Body.Close()

				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, cliFprint, string(body))
			},
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				w.Write([]byte(Fingerprint(r)))
			},
			AuthorizeClient: trust(cliFprint),
			AuthorizeServer: trust(svrFprint),
		},
		{
			Name: "put with body",
			Fn: func(t *testing.T, cli *Client, addr string) {
				resp, err := cli.PUT(ctx, "https://"+addr+"/test", strings.NewReader("test body"))
				require.NoError(t, err)
				defer resp.Body.Close()

				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, "PUT test body", string(body))
			},
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				body, _ := io.ReadAll(r.Body)
				w.Write([]byte(r.Method + " " + string(body)))
			},
			AuthorizeClient: trust(cliFprint),
			AuthorizeServer: trust(svrFprint),
		},
		{
			Name: "untrusted client",
			Fn: func(t *testing.T, cli *Client, addr string) {
				e := &ErrUntrustedClient{}
				_, err := cli.GET(ctx, "https://"+addr+"/test")
				require.ErrorAs(t, err, &e)
				assert.Equal(t, cliFprint, e.Fingerprint)
			},
			Handler:         empty,
			AuthorizeClient: deny,
			AuthorizeServer: trust(svrFprint),
		},
		{
			Name: "untrusted server",
			Fn: func(t *testing.T, cli *Client, addr string) {
				e := &ErrUntrustedServer{}
				_, err := cli.GET(ctx, "https://"+addr+"/test")
				require.ErrorAs(t, err, &e)
				assert.Equal(t, svrFprint, e.Fingerprint)
			},
			Handler:         empty,
			AuthorizeClient: trust(cliFprint),
			AuthorizeServer: deny,
		},
		{
			Name: "50x",
			Fn: func(t *testing.T, cli *Client, addr string) {
				_, err := cli.DELETE(ctx, "https://"+addr+"/test")
				require.EqualError(t, err, "server error status: 502, body: test error")
			},
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				w.WriteHeader(502)
				w.Write([]byte("test error"))
			},
			AuthorizeClient: trust(cliFprint),
			AuthorizeServer: trust(svrFprint),
		},
		{
			Name: "20x && != 200",
			Fn: func(t *testing.T, cli *Client, addr string) {
				resp, err := cli.GET(ctx, "https://"+addr+"/test")
				require.NoError(t, err)
				defer resp.Body.Close()
				assert.Equal(t, 204, resp.StatusCode)
			},
			Handler: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
				w.WriteHeader(204)
			},
			AuthorizeClient: trust(cliFprint),
			AuthorizeServer: trust(svrFprint),
		},
		{
			Name: "missing client cert",
			Fn: func(t *testing.T, cli *Client, addr string) {
				cli.Transport.(*http.Transport).TLSClientConfig.Certificates = []tls.Certificate{}

				_, err := cli.GET(ctx, "https://"+addr+"/test")
				require.Error(t, err)
			},
			Handler:         empty,
			AuthorizeClient: trust(cliFprint),
			AuthorizeServer: trust(svrFprint),
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			defer ln.Close()

			router := httprouter.New()
			router.Handle(http.MethodGet, "/test", WithAuth(test.AuthorizeClient, test.Handler))
			router.Handle(http.MethodPut, "/test", WithAuth(test.AuthorizeClient, test.Handler))
			router.Handle(http.MethodDelete, "/test", WithAuth(test.AuthorizeClient, test.Handler))
			svr := NewServer("", svrCert, WithLogging(router))
			go svr.ServeTLS(ln, "", "")
			defer svr.Close()

			cli := NewClient(cliCert, time.Second*5, test.AuthorizeServer)

			test.Fn(t, cli, ln.Addr().String())
		})
	}
}
