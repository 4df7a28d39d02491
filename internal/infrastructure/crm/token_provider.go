package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/crm"
	"go.uber.org/zap"
)

// OAuthTokenProvider implements domain.CredentialProvider with the OAuth2
// refresh-token grant. The access token is cached until RefreshSlack before expiry.
type OAuthTokenProvider struct {
	config     TokenConfig
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	current domain.Credential
}

// NewOAuthTokenProvider creates a token provider
func NewOAuthTokenProvider(cfg TokenConfig, logger *zap.Logger) (*OAuthTokenProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthTokenProvider{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}, nil
}

// ValidCredential returns the cached token or refreshes it.
// Concurrent callers wait for a single refresh.
func (p *OAuthTokenProvider) ValidCredential(ctx context.Context) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.Valid(p.now(), p.config.RefreshSlack) {
		return p.current, nil
	}
	cred, err := p.refresh(ctx)
	if err != nil {
		return domain.Credential{}, err
	}
	p.current = cred
	return cred, nil
}

// Invalidate drops the cached token
func (p *OAuthTokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = domain.Credential{}
}

func (p *OAuthTokenProvider) refresh(ctx context.Context) (domain.Credential, error) {
	const op = "refresh_token"
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"refresh_token": {p.config.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Credential{}, domain.NewError(domain.ClassPermanent, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.Credential{}, domain.NewError(domain.ClassTransient, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.Credential{}, domain.NewError(domain.ClassTransient, op, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.Credential{}, &domain.Error{Class: domain.ClassTransient, Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 300:
		// a rejected refresh token needs operator attention
		return domain.Credential{}, &domain.Error{Class: domain.ClassPermanent, Op: op, StatusCode: resp.StatusCode}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return domain.Credential{}, domain.NewError(domain.ClassPermanent, op, fmt.Errorf("malformed token response"))
	}

	cred := domain.Credential{
		AccessToken: tok.AccessToken,
		ExpiresAt:   p.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	p.logger.Info("crm access token refreshed", zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

// StaticCredentials is a fixed token, for tests and local CRM sandboxes
type StaticCredentials struct {
	Token string
}

// ValidCredential returns the fixed token
func (s StaticCredentials) ValidCredential(context.Context) (domain.Credential, error) {
	return domain.Credential{AccessToken: s.Token, ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

// Invalidate is a no-op
func (StaticCredentials) Invalidate() {}

var (
	_ domain.CredentialProvider = (*OAuthTokenProvider)(nil)
	_ domain.CredentialProvider = StaticCredentials{}
)
