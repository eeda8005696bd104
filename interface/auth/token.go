// Package auth maintains the short-lived token that must be appended to
// every imagery asset URL.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Chernenko-Roman/simple-sentinel2-web-viewer/service/log"
	"go.uber.org/zap"
)

// TokenProvider returns the currently valid authorization token.
type TokenProvider interface {
	Get() (string, error)
}

// Manager fetches the token from a remote endpoint and refreshes it on a
// fixed timer. Readers opened with an old token are invalidated lazily by
// their caches, never aborted.
type Manager struct {
	httpClient *http.Client
	endpoint   string
	refresh    time.Duration
	token      atomic.Value
}

// NewManager fetches an initial token and starts the refresh loop. The
// returned CancelFunc stops the loop.
func NewManager(ctx context.Context, client *http.Client, endpoint string, refresh time.Duration) (*Manager, context.CancelFunc) {
	if client == nil {
		client = &http.Client{}
	}
	m := &Manager{
		httpClient: client,
		endpoint:   endpoint,
		refresh:    refresh,
	}

	if token, err := m.fetch(ctx); err != nil {
		log.Logger(ctx).Error("failed to fetch initial token", zap.Error(err))
	} else {
		m.token.Store(token)
	}

	ctx, cncl := context.WithCancel(ctx)

	go func() {
		for {
			nextRefresh := m.refresh
			select {
			case <-time.After(nextRefresh):
			case <-ctx.Done():
				return
			}
			token, err := m.fetch(ctx)
			if err != nil {
				log.Logger(ctx).Error("failed to refresh token", zap.Error(err))
				continue
			}
			m.token.Store(token)
			log.Logger(ctx).Sugar().Debugf("token refreshed, next refresh in %s", nextRefresh)
		}
	}()

	return m, cncl
}

// Get returns the current token.
func (m *Manager) Get() (string, error) {
	token, ok := m.token.Load().(string)
	if !ok || token == "" {
		return "", errors.New("no token available")
	}
	return token, nil
}

func (m *Manager) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("fetch.NewRequest: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: %s", resp.Status)
	}

	tokenResponse := struct {
		Token string `json:"token"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return "", fmt.Errorf("fetch.Decode: %w", err)
	}
	if tokenResponse.Token == "" {
		return "", errors.New("fetch: empty token")
	}
	return tokenResponse.Token, nil
}

// Static is a TokenProvider with a fixed token (used by tests and by
// deployments without a token endpoint).
type Static string

func (s Static) Get() (string, error) { return string(s), nil }
