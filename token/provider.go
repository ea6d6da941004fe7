// Package token holds the orchestrator's OAuth token tuple in memory and
// keeps it fresh. Token material never touches the database or the logs;
// the only outputs are the access token string handed to the dispatcher and
// a redacted status view for the HTTP surface.
package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/troupelabs/troupe/errors"
	"github.com/troupelabs/troupe/internal/httpclient"
	"github.com/troupelabs/troupe/internal/util"
)

const (
	// RefreshMargin is how close to expiry a token may get before a
	// refresh is attempted.
	RefreshMargin = 10 * time.Minute

	// KeepWarmInterval is the period of the background refresh loop.
	KeepWarmInterval = 30 * time.Minute

	refreshTimeout = 30 * time.Second
)

// Tuple is one installed OAuth token set.
type Tuple struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// Status is the redacted view served over HTTP.
type Status struct {
	Installed bool       `json:"installed"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Scopes    []string   `json:"scopes,omitempty"`
}

// Config wires a Provider.
type Config struct {
	// TokenURL is the OAuth token endpoint for refresh_token grants.
	TokenURL string

	// ClientID is sent with refresh requests when set.
	ClientID string

	// HTTPClient overrides the default client, for tests.
	HTTPClient *httpclient.SaferClient
}

// Provider serves access tokens, refreshing them near expiry.
type Provider struct {
	mu     sync.Mutex
	tuple  *Tuple
	cfg    Config
	client *httpclient.SaferClient

	// limiter caps refresh attempts so a broken endpoint cannot be
	// hammered by every dispatch.
	limiter *rate.Limiter

	log *zap.SugaredLogger
}

// NewProvider creates a token provider. Self-hosted token endpoints on
// private addresses are allowed.
func NewProvider(cfg Config, log *zap.SugaredLogger) *Provider {
	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.NewSaferClientWithOptions(refreshTimeout, httpclient.SaferClientOptions{
			BlockPrivateIP: util.Ptr(false),
		})
	}
	return &Provider{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(20*time.Second), 2),
		log:     log,
	}
}

// Install replaces the stored tuple.
func (p *Provider) Install(t Tuple) error {
	if t.AccessToken == "" {
		return errors.Wrap(errors.ErrInvalidRequest, "access token cannot be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tuple = &t
	p.log.Infow("OAuth token installed",
		"expires_at", t.ExpiresAt.Format(time.RFC3339),
		"scopes", len(t.Scopes),
	)
	return nil
}

// Clear drops the stored tuple.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tuple = nil
	p.log.Infow("OAuth token cleared")
}

// Status returns the redacted token state.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tuple == nil {
		return Status{}
	}
	st := Status{
		Installed: true,
		Scopes:    append([]string(nil), p.tuple.Scopes...),
	}
	if !p.tuple.ExpiresAt.IsZero() {
		expires := p.tuple.ExpiresAt
		st.ExpiresAt = &expires
	}
	return st
}

// AccessToken returns a token valid for at least RefreshMargin, refreshing
// if needed. When a refresh fails but the stored token has not yet expired,
// the stale token is returned so dispatches keep flowing.
func (p *Provider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tuple == nil {
		return "", errors.ErrNoToken
	}
	if time.Until(p.tuple.ExpiresAt) > RefreshMargin {
		return p.tuple.AccessToken, nil
	}

	if !p.limiter.Allow() {
		return p.staleOrError(errors.New("refresh rate limit exceeded"))
	}

	fresh, err := p.refresh(ctx, p.tuple.RefreshToken)
	if err != nil {
		p.log.Warnw("Token refresh failed", "error", err)
		return p.staleOrError(err)
	}

	p.tuple = fresh
	p.log.Infow("OAuth token refreshed",
		"expires_at", fresh.ExpiresAt.Format(time.RFC3339),
	)
	return fresh.AccessToken, nil
}

// staleOrError is called with the lock held after a refresh could not run.
func (p *Provider) staleOrError(cause error) (string, error) {
	if time.Now().Before(p.tuple.ExpiresAt) {
		return p.tuple.AccessToken, nil
	}
	return "", errors.Wrap(cause, "token expired and refresh unavailable")
}

// tokenResponse is the refresh grant response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*Tuple, error) {
	if p.cfg.TokenURL == "" {
		return nil, errors.New("no token URL configured")
	}
	if refreshToken == "" {
		return nil, errors.New("no refresh token to rotate")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if p.cfg.ClientID != "" {
		form.Set("client_id", p.cfg.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "refresh request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read refresh response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, errors.Wrap(err, "malformed refresh response")
	}
	if tr.AccessToken == "" {
		return nil, errors.New("refresh response missing access token")
	}

	tuple := &Tuple{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	// Endpoints that do not rotate keep the old refresh token usable.
	if tuple.RefreshToken == "" {
		tuple.RefreshToken = refreshToken
	}
	if tr.Scope != "" {
		tuple.Scopes = strings.Fields(tr.Scope)
	}
	return tuple, nil
}

// KeepWarm refreshes the token on a timer until ctx is cancelled, so
// interactive dispatches rarely pay the refresh round trip.
func (p *Provider) KeepWarm(ctx context.Context) {
	ticker := time.NewTicker(KeepWarmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.AccessToken(ctx); err != nil && !errors.Is(err, errors.ErrNoToken) {
				p.log.Warnw("Keep-warm token refresh failed", "error", err)
			}
		}
	}
}
