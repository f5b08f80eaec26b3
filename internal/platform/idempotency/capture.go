package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/groupdine/api/internal/platform/auth"
)

// capture holds a handler's response until the middleware knows whether to store it.
type capture struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func newCapture() *capture {
	return &capture{header: make(http.Header)}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(code int) {
	if c.code == 0 {
		c.code = code
	}
}

func (c *capture) Write(p []byte) (int, error) {
	c.WriteHeader(http.StatusOK)
	return c.body.Write(p)
}

func (c *capture) status() int {
	if c.code == 0 {
		return http.StatusOK
	}
	return c.code
}

func (c *capture) response() Response {
	return Response{Status: c.status(), Headers: c.header.Clone(), Body: bytes.Clone(c.body.Bytes())}
}

func (c *capture) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	w.WriteHeader(c.status())
	_, _ = c.body.WriteTo(w)
}

// bufferBody reads the body and puts an identical reader back on the request.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// callerScope names who sent the request. Keys are namespaced by it so two members cannot
// collide on the same key.
func callerScope(ctx context.Context) string {
	if id, ok := auth.IdentityFromContext(ctx); ok && id.UID != "" {
		return "uid:" + id.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "svc:" + svc.Subject
	}
	return "anonymous"
}

func storeKey(caller, key string) string {
	return caller + "|" + key
}

// fingerprint binds a key to the method, path, query, caller and body it was first used with.
func fingerprint(r *http.Request, body []byte, caller string) string {
	h := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, r.URL.RawQuery, caller} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
