package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/httpclient"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/tracing"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/credstore"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/domain"
)

var errRefreshFailed = errors.New("token refresh failed")

// refreshAccessToken obtains a new access token to replace stale, the token
// the backend just rejected. Any failure signs the session out.
//
// With single-flight enabled, concurrent callers share one request, and a
// caller whose stale token has already been replaced gets the stored token
// without another round trip.
func (m *Manager) refreshAccessToken(ctx context.Context, stale string) (string, bool) {
	if !m.cfg.SingleFlightRefresh {
		token, err := m.doRefresh(ctx)
		return token, err == nil
	}

	v, err, _ := m.refresh.Do("refresh", func() (any, error) {
		if current, ok := m.get(ctx, credstore.KeyAccessToken); ok && current != stale {
			refreshTotal.WithLabelValues("reused").Inc()
			return current, nil
		}
		// The flight outlives the caller that started it.
		return m.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", false
	}
	return v.(string), true
}

func (m *Manager) doRefresh(ctx context.Context) (token string, err error) {
	ctx, span := m.tracer.Start(ctx, "session.RefreshAccessToken")
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	refresh, ok := m.get(ctx, credstore.KeyRefreshToken)
	if !ok {
		refreshTotal.WithLabelValues("missing_token").Inc()
		m.refreshFailed(ctx, "no refresh token stored")
		return "", errRefreshFailed
	}

	pair, err := m.requestRefresh(ctx, refresh)
	if err != nil {
		if errors.Is(err, errRefreshRejected) {
			refreshTotal.WithLabelValues("rejected").Inc()
		} else {
			refreshTotal.WithLabelValues("error").Inc()
		}
		m.refreshFailed(ctx, err.Error())
		return "", errRefreshFailed
	}

	if err := m.store.Set(ctx, credstore.KeyAccessToken, pair.Access); err != nil {
		refreshTotal.WithLabelValues("error").Inc()
		m.refreshFailed(ctx, "store access token: "+err.Error())
		return "", errRefreshFailed
	}
	if pair.Refresh != "" {
		if err := m.store.Set(ctx, credstore.KeyRefreshToken, pair.Refresh); err != nil {
			refreshTotal.WithLabelValues("error").Inc()
			m.refreshFailed(ctx, "store rotated refresh token: "+err.Error())
			return "", errRefreshFailed
		}
	}

	refreshTotal.WithLabelValues("success").Inc()
	m.log(ctx).DebugContext(ctx, "access token refreshed", slog.Bool("rotated", pair.Refresh != ""))
	return pair.Access, nil
}

var errRefreshRejected = errors.New("refresh token rejected")

func (m *Manager) requestRefresh(ctx context.Context, refresh string) (domain.TokenPair, error) {
	req, err := m.newJSONRequest(ctx, http.MethodPost, PathRefresh, map[string]string{"refresh": refresh})
	if err != nil {
		return domain.TokenPair{}, err
	}

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("refresh request: %w", err)
	}
	if !isOK(resp.StatusCode) {
		fields, _ := httpclient.DecodeErrorBody(resp)
		return domain.TokenPair{}, fmt.Errorf("%w: status %d %v", errRefreshRejected, resp.StatusCode, fields["detail"])
	}

	var pair domain.TokenPair
	if err := decodeBody(resp, &pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if pair.Access == "" {
		return domain.TokenPair{}, errors.New("refresh response carried no access token")
	}
	return pair, nil
}

// refreshFailed reports a failed refresh and signs the session out.
func (m *Manager) refreshFailed(ctx context.Context, reason string) {
	userID := m.currentUserID()
	m.log(ctx).WarnContext(ctx, "token refresh failed, signing out",
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
	m.emit(ctx, "refresh_failed", func(ctx context.Context) error {
		return m.publisher.RefreshFailed(ctx, userID)
	})
	m.logout(ctx, "refresh failed")
}
