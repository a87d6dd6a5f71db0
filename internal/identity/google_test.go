package identity

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGoogle serves the token and userinfo endpoints
type fakeGoogle struct {
	mu          sync.Mutex
	challenge   string
	tokenStatus int
	gotVerifier string
	gotCode     string
	server      *httptest.Server
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	f := &fakeGoogle{tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.gotVerifier = r.PostForm.Get("code_verifier")
		f.gotCode = r.PostForm.Get("code")
		status := f.tokenStatus
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"backend_error"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
			"id_token":      "header.payload.sig",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"1089","name":"Ada Lovelace","given_name":"Ada","family_name":"Lovelace","email":"ada@example.com","picture":"https://example.com/ada.png"}`))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// consent returns an opener that plays the browser: it follows the consent
// URL straight to the loopback redirect with the given query
func (f *fakeGoogle) consent(t *testing.T, query func(state string) url.Values) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()

		f.mu.Lock()
		f.challenge = q.Get("code_challenge")
		f.mu.Unlock()
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.Equal(t, "offline", q.Get("access_type"))
		assert.Equal(t, "openid profile email", q.Get("scope"))

		redirect := q.Get("redirect_uri") + "?" + query(q.Get("state")).Encode()
		go func() {
			resp, err := http.Get(redirect)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func newTestGoogle(t *testing.T, f *fakeGoogle, open func(string) error) (*Google, string) {
	t.Helper()
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	g, err := NewGoogle(GoogleConfig{
		ClientID:    "client-1",
		SessionPath: sessionPath,
		Timeout:     5 * time.Second,
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.server.URL + "/auth",
			TokenURL:  f.server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: f.server.URL + "/userinfo",
	}, open, zerolog.Nop())
	require.NoError(t, err)
	return g, sessionPath
}

func approve(state string) url.Values {
	return url.Values{"code": {"code-1"}, "state": {state}}
}

func TestSignInNormalizesProfileAndPersistsSession(t *testing.T) {
	f := newFakeGoogle(t)
	g, _ := newTestGoogle(t, f, nil)
	g.open = f.consent(t, approve)

	out, err := g.SignIn(context.Background())
	require.NoError(t, err)
	require.False(t, out.Cancelled)
	require.NotNil(t, out.Identity)

	assert.Equal(t, UserIdentity{
		ID:         "1089",
		Name:       "Ada Lovelace",
		GivenName:  "Ada",
		FamilyName: "Lovelace",
		Email:      "ada@example.com",
		PhotoURL:   "https://example.com/ada.png",
		IDToken:    "header.payload.sig",
	}, *out.Identity)

	f.mu.Lock()
	sum := sha256.Sum256([]byte(f.gotVerifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), f.challenge)
	assert.Equal(t, "code-1", f.gotCode)
	f.mu.Unlock()

	restored, err := g.RestoreSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, *out.Identity, *restored)
}

func TestSignInDeniedIsCancellation(t *testing.T) {
	f := newFakeGoogle(t)
	g, _ := newTestGoogle(t, f, nil)
	g.open = f.consent(t, func(state string) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {state}}
	})

	out, err := g.SignIn(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Nil(t, out.Identity)

	restored, err := g.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, restored)
}

func TestSignInAbandonedIsCancellation(t *testing.T) {
	f := newFakeGoogle(t)
	ctx, cancel := context.WithCancel(context.Background())
	g, _ := newTestGoogle(t, f, func(string) error {
		cancel()
		return nil
	})

	out, err := g.SignIn(ctx)
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
}

func TestSecondSignInIsInProgress(t *testing.T) {
	f := newFakeGoogle(t)
	opened := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, _ := newTestGoogle(t, f, func(string) error {
		close(opened)
		return nil
	})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := g.SignIn(ctx)
		done <- out
	}()
	<-opened

	_, err := g.SignIn(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeInProgress, Classify(err))
	assert.Equal(t, "Sign-in is already in progress", Message(err))

	cancel()
	assert.True(t, (<-done).Cancelled)
}

func TestSignInTokenOutageIsServiceUnavailable(t *testing.T) {
	f := newFakeGoogle(t)
	f.tokenStatus = http.StatusServiceUnavailable
	g, _ := newTestGoogle(t, f, nil)
	g.open = f.consent(t, approve)

	_, err := g.SignIn(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeServiceUnavailable, Classify(err))
}

func TestSignOutIsIdempotent(t *testing.T) {
	f := newFakeGoogle(t)
	g, _ := newTestGoogle(t, f, nil)
	g.open = f.consent(t, approve)

	_, err := g.SignIn(context.Background())
	require.NoError(t, err)

	require.NoError(t, g.SignOut(context.Background()))
	require.NoError(t, g.SignOut(context.Background()))

	restored, err := g.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, restored)
}

func TestNewGoogleRequiresClientID(t *testing.T) {
	_, err := NewGoogle(GoogleConfig{}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestClassifyAndMessage(t *testing.T) {
	assert.Equal(t, CodeCancelled, Classify(context.Canceled))
	assert.Equal(t, CodeUnknown, Classify(errors.New("boom")))
	assert.Equal(t, "boom", Message(errors.New("boom")))
	assert.Equal(t, "Google sign-in service is not available", Message(&Error{Code: CodeServiceUnavailable}))
	assert.Equal(t, "Unknown error occurred", Message(&Error{Code: CodeUnknown}))
	assert.Equal(t, "Sign-in was cancelled", Message(&Error{Code: CodeCancelled}))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada", UserIdentity{GivenName: "Ada", Name: "Ada Lovelace"}.DisplayName())
	assert.Equal(t, "Ada Lovelace", UserIdentity{Name: "Ada Lovelace"}.DisplayName())
	assert.Equal(t, "ada@example.com", UserIdentity{Email: "ada@example.com"}.DisplayName())
}
