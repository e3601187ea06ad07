package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/httpclient"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/tracing"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/credstore"
)

// NewRequest builds a request for path relative to the backend base URL.
// Absolute http(s) URLs are used as given.
func (m *Manager) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, m.resolve(path), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	return req, nil
}

func (m *Manager) newJSONRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	req, err := httpclient.NewJSONRequest(ctx, method, m.resolve(path), body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return req, nil
}

func (m *Manager) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return m.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// FetchWithAuth sends req with the stored access token. A 401 triggers one
// token refresh and one retry with the new token; the retry's response is
// returned whatever its status. If the refresh fails, the original 401 is
// returned untouched.
//
// Any Authorization header already on req is replaced. The body is buffered
// so the request can be replayed.
func (m *Manager) FetchWithAuth(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx, span := m.tracer.Start(ctx, "session.FetchWithAuth")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.URL.Path),
	)

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
	}

	token, _ := m.get(ctx, credstore.KeyAccessToken)
	resp, err := m.send(ctx, req, body, token)
	if err != nil {
		fetchTotal.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		fetchTotal.WithLabelValues("direct").Inc()
		return resp, nil
	}

	newToken, ok := m.refreshAccessToken(ctx, token)
	if !ok {
		fetchTotal.WithLabelValues("unauthorized").Inc()
		return resp, nil
	}
	drain(resp)

	span.SetAttributes(attribute.Bool("session.retried", true))
	resp, err = m.send(ctx, req, body, newToken)
	if err != nil {
		fetchTotal.WithLabelValues("error").Inc()
		tracing.RecordError(span, err)
		return nil, err
	}
	fetchTotal.WithLabelValues("retried").Inc()
	return resp, nil
}

func (m *Manager) send(ctx context.Context, req *http.Request, body []byte, token string) (*http.Response, error) {
	r := req.Clone(ctx)
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	} else {
		r.Body = nil
		r.ContentLength = 0
		r.GetBody = nil
	}

	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	} else {
		r.Header.Del("Authorization")
		m.log(ctx).WarnContext(ctx, "sending request without access token",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}
	return m.client.Do(ctx, r)
}
