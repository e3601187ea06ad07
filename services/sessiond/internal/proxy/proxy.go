package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	pkghttputil "github.com/Yoseph-M/Soultalk-sub000/pkg/httputil"
)

// Fetcher sends a request on behalf of the signed-in user.
type Fetcher interface {
	FetchWithAuth(ctx context.Context, req *http.Request) (*http.Response, error)
}

// fetchTransport routes every upstream round trip through the session so
// the stored access token is attached and refreshed on 401.
type fetchTransport struct {
	fetcher Fetcher
}

func (t fetchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.fetcher.FetchWithAuth(req.Context(), req)
}

// SessionProxy forwards API calls to the backend with the session's
// credentials.
type SessionProxy struct {
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// NewSessionProxy creates a reverse proxy to target. Credentials sent by the
// caller are stripped; the backend only ever sees the session's own token.
func NewSessionProxy(target *url.URL, fetcher Fetcher, logger *slog.Logger) *SessionProxy {
	sp := &SessionProxy{logger: logger}
	sp.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
		},
		Transport:    fetchTransport{fetcher: fetcher},
		ErrorHandler: sp.errorHandler,
	}

	logger.Info("registered session proxy", slog.String("target", target.String()))
	return sp
}

// ServeHTTP implements http.Handler.
func (sp *SessionProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sp.proxy.ServeHTTP(w, r)
}

func (sp *SessionProxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		sp.logger.DebugContext(r.Context(), "proxy request canceled by client",
			slog.String("path", r.URL.Path),
		)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	sp.logger.ErrorContext(r.Context(), "proxy error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	pkghttputil.WriteJSON(w, http.StatusBadGateway, pkghttputil.Response{
		Error: &pkghttputil.ErrorResponse{Code: "BAD_GATEWAY", Message: "upstream service unavailable"},
	})
}
