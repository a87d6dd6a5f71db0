package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	callbackPath       = "/oauth-callback"
)

// DefaultScopes are the scopes requested at sign-in
var DefaultScopes = []string{"openid", "profile", "email"}

// GoogleConfig configures the Google OAuth provider
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	CallbackPort int // 0 picks a free port
	SessionPath  string
	Timeout      time.Duration

	// Overridable for tests; zero values mean Google's production endpoints
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// Google signs users in with Google using the authorization-code flow with
// PKCE and a loopback redirect
type Google struct {
	oauth       oauth2.Config
	port        int
	userInfoURL string
	httpClient  *http.Client
	sessions    *SessionFile
	open        func(authURL string) error
	signingIn   sync.Mutex
	log         zerolog.Logger
}

// NewGoogle creates the provider. open is called with the consent URL and is
// expected to show it to the user (launch a browser, print it, or both).
func NewGoogle(cfg GoogleConfig, open func(authURL string) error, log zerolog.Logger) (*Google, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("google client id is not configured")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = DefaultUserInfoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Google{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		port:        cfg.CallbackPort,
		userInfoURL: userInfoURL,
		httpClient:  &http.Client{Timeout: timeout},
		sessions:    NewSessionFile(cfg.SessionPath),
		open:        open,
		log:         log.With().Str("component", "identity").Logger(),
	}, nil
}

// RestoreSession returns the identity saved by a previous sign-in, if any
func (g *Google) RestoreSession(ctx context.Context) (*UserIdentity, error) {
	s, err := g.sessions.Load()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	g.log.Debug().Time("saved_at", s.SavedAt).Msg("session restored")
	identity := s.Identity
	return &identity, nil
}

// callbackResult is what the loopback handler received
type callbackResult struct {
	code    string
	errCode string
}

// SignIn runs the interactive consent flow. Only one may run at a time.
func (g *Google) SignIn(ctx context.Context) (Outcome, error) {
	if !g.signingIn.TryLock() {
		return Outcome{}, ErrInProgress
	}
	defer g.signingIn.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", g.port))
	if err != nil {
		return Outcome{}, &Error{Code: CodeUnknown, Err: fmt.Errorf("failed to start callback listener: %w", err)}
	}

	conf := g.oauth
	conf.RedirectURL = fmt.Sprintf("http://%s%s", ln.Addr().String(), callbackPath)

	state := uuid.New().String()
	verifier := oauth2.GenerateVerifier()
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "Invalid state", http.StatusBadRequest)
			return
		}

		res := callbackResult{code: q.Get("code"), errCode: q.Get("error")}
		if res.errCode == "" && res.code == "" {
			http.Error(w, "No code received", http.StatusBadRequest)
			return
		}

		if res.errCode != "" {
			w.Write([]byte("Sign-in did not complete. You can close this window and return to the terminal."))
		} else {
			w.Write([]byte("Sign-in successful! You can close this window and return to the terminal."))
		}
		select {
		case results <- res:
		default:
		}
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go server.Serve(ln)
	defer server.Close()

	g.log.Info().Str("redirect", conf.RedirectURL).Msg("waiting for consent")
	if g.open != nil {
		if err := g.open(authURL); err != nil {
			g.log.Warn().Err(err).Msg("could not open consent page")
		}
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		g.log.Info().Msg("sign-in abandoned")
		return Outcome{Cancelled: true}, nil
	}

	if res.errCode == "access_denied" {
		g.log.Info().Msg("consent denied")
		return Outcome{Cancelled: true}, nil
	}
	if res.errCode != "" {
		return Outcome{}, &Error{Code: CodeUnknown, Err: fmt.Errorf("authorization failed: %s", res.errCode)}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	token, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Outcome{Cancelled: true}, nil
		}
		g.log.Error().Err(err).Msg("token exchange failed")
		return Outcome{}, classifyTransport("token exchange failed", err)
	}

	identity, err := g.fetchProfile(ctx, conf.Client(ctx, token))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Outcome{Cancelled: true}, nil
		}
		g.log.Error().Err(err).Msg("profile fetch failed")
		return Outcome{}, err
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		identity.IDToken = idToken
	}

	if err := g.sessions.Save(storedSession{Identity: identity, Token: token, SavedAt: time.Now()}); err != nil {
		// The sign-in itself worked; the next launch will just ask again
		g.log.Warn().Err(err).Msg("failed to persist session")
	}

	g.log.Info().Str("user", identity.ID).Msg("signed in")
	return Outcome{Identity: &identity}, nil
}

// SignOut forgets the local session
func (g *Google) SignOut(ctx context.Context) error {
	if err := g.sessions.Remove(); err != nil {
		return &Error{Code: CodeUnknown, Err: err}
	}
	g.log.Info().Msg("signed out")
	return nil
}

// googleProfile is the OpenID Connect userinfo response
type googleProfile struct {
	Sub        string `json:"sub"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
	Picture    string `json:"picture"`
}

func (g *Google) fetchProfile(ctx context.Context, client *http.Client) (UserIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return UserIdentity{}, &Error{Code: CodeUnknown, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return UserIdentity{}, classifyTransport("profile request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return UserIdentity{}, &Error{Code: CodeServiceUnavailable, Err: fmt.Errorf("userinfo returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return UserIdentity{}, &Error{Code: CodeUnknown, Err: fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, string(body))}
	}

	var p googleProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return UserIdentity{}, &Error{Code: CodeUnknown, Err: fmt.Errorf("failed to parse profile: %w", err)}
	}
	if p.Sub == "" {
		return UserIdentity{}, &Error{Code: CodeUnknown, Err: fmt.Errorf("profile has no subject id")}
	}

	return UserIdentity{
		ID:         p.Sub,
		Name:       p.Name,
		GivenName:  p.GivenName,
		FamilyName: p.FamilyName,
		Email:      p.Email,
		PhotoURL:   p.Picture,
	}, nil
}

// classifyTransport separates an unreachable provider from a rejected request
func classifyTransport(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return &Error{Code: CodeServiceUnavailable, Err: fmt.Errorf("%s: %w", op, err)}
		}
		return &Error{Code: CodeUnknown, Err: fmt.Errorf("%s: %w", op, err)}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return &Error{Code: CodeServiceUnavailable, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &Error{Code: CodeUnknown, Err: fmt.Errorf("%s: %w", op, err)}
}
