package idempotency

import (
	"bytes"
	"net/http"
)

// responseCapture buffers a handler's response so it can be stored before
// anything reaches the client. Headers go straight to the real writer's
// header map; status and body are held until flush.
type responseCapture struct {
	w           http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	return &responseCapture{w: w, status: http.StatusOK}
}

func (c *responseCapture) Header() http.Header {
	return c.w.Header()
}

func (c *responseCapture) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.status = status
	c.wroteHeader = true
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.body.Write(b)
}

// flush writes the buffered response to the client
func (c *responseCapture) flush() {
	c.w.WriteHeader(c.status)
	if c.body.Len() > 0 {
		_, _ = c.w.Write(c.body.Bytes())
	}
}
