package e2payments

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/checkout-gateway/internal/upstream"
)

const (
	// DefaultTokenTTL applies when the token response omits expires_in.
	DefaultTokenTTL = time.Hour
	// TokenExpiryMargin is subtracted from the declared lifetime so a token
	// is never sent close to its real expiry.
	TokenExpiryMargin = 5 * time.Minute
)

// TokenSource exchanges client credentials for a bearer token and caches it
// until shortly before expiry. Safe for concurrent use; concurrent refreshes
// share one exchange.
type TokenSource struct {
	url          string
	clientID     string
	clientSecret string
	http         *upstream.Client
	lg           *zap.Logger
	now          func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	value   string
	expires time.Time
}

// NewTokenSource creates a TokenSource posting to {authURL}/oauth/token.
func NewTokenSource(authURL, clientID, clientSecret string, httpClient *upstream.Client, lg *zap.Logger) *TokenSource {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &TokenSource{
		url:          strings.TrimRight(authURL, "/") + "/oauth/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         httpClient,
		lg:           lg,
		now:          time.Now,
	}
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns the Authorization header value, "<token_type> <access_token>".
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	// The shared refresh outlives any single caller; each caller still
	// stops waiting when its own context ends.
	ch := s.group.DoChan("token", func() (any, error) {
		// Another caller may have refreshed while we waited on the group.
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		return s.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "wait for token")
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = ""
	s.expires = time.Time{}
}

func (s *TokenSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value != "" && s.now().Before(s.expires) {
		return s.value, true
	}
	return "", false
}

func (s *TokenSource) refresh(ctx context.Context) (string, error) {
	fetchedAt := s.now()

	var resp tokenResponse
	err := s.http.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    s.url,
		Body: tokenRequest{
			GrantType:    "client_credentials",
			ClientID:     s.clientID,
			ClientSecret: s.clientSecret,
		},
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "request access token")
	}
	if resp.AccessToken == "" {
		s.lg.Error("Token response without access_token", zap.String("endpoint", s.url))
		return "", errors.New("token response without access_token")
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	ttl := DefaultTokenTTL
	if resp.ExpiresIn > 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}

	value := tokenType + " " + resp.AccessToken
	expires := fetchedAt.Add(ttl - TokenExpiryMargin)

	s.mu.Lock()
	s.value = value
	s.expires = expires
	s.mu.Unlock()

	s.lg.Debug("Access token refreshed", zap.Time("expires_at", expires))
	return value, nil
}
