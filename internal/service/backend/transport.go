package backend

import (
	"net/http"
	"time"
)

const RequestIDHeader = "X-Request-ID"

type infoLogger interface {
	Info(msg string, args ...any)
}

// LoggingTransport logs every round trip the way the server logs incoming requests
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger infoLogger
}

func (t *LoggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(r)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	t.Logger.Info(
		"sent HTTP request",
		"method", r.Method,
		"uri", r.URL.RequestURI(),
		"duration", time.Since(start),
		"status", status,
		"request_id", r.Header.Get(RequestIDHeader),
	)

	return resp, err
}

// NewHTTPClient returns client with logging transport
// Zero timeout means no timeout beyond what transport provides
func NewHTTPClient(timeout time.Duration, l infoLogger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &LoggingTransport{Base: http.DefaultTransport, Logger: l},
	}
}
