package rpc

import (
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

const fingerprintParam = "fingerprint"

// WithAuth rejects requests whose client certificate isn't trusted.
// Handlers can read the caller's fingerprint with Fingerprint.
func WithAuth(auth Authorizer, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			w.WriteHeader(401)
			return
		}

		fingerprint := GetCertFingerprint(r.TLS.PeerCertificates[0].Raw)
		if auth == nil || !auth.TrustsCert(fingerprint) {
			log.Printf("rejected request from untrusted client %s (%s)", fingerprint, r.RemoteAddr)
			w.WriteHeader(403)
			return
		}

		// Passed through the query to keep handlers plain httprouter.Handle funcs
		q := r.URL.Query()
		q.Set(fingerprintParam, fingerprint)
		r.URL.RawQuery = q.Encode()

		next(w, r, ps)
	}
}

// Fingerprint returns the fingerprint of the authenticated caller.
func Fingerprint(r *http.Request) string {
	return r.URL.Query().Get(fingerprintParam)
}

func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wp := &responseProxy{ResponseWriter: w, Status: 200}
		next.ServeHTTP(wp, r)
		log.Printf("%s %s - %d (%s)", r.Method, r.URL.Path, wp.Status, r.RemoteAddr)
	})
}

// responseProxy retains the response status for logging.
type responseProxy struct {
	http.ResponseWriter
	Status int
}

func (r *responseProxy) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseProxy) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
