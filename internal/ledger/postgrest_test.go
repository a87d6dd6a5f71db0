package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePostgREST serves the subset of the PostgREST API the store uses
type fakePostgREST struct {
	t        *testing.T
	mu       sync.Mutex
	messages []map[string]any
	logins   []map[string]any
	users    map[string]map[string]any
	requests []string
	failWith int
}

func newFakePostgREST(t *testing.T) (*fakePostgREST, *RESTStore) {
	t.Helper()
	fake := &fakePostgREST{t: t, users: map[string]map[string]any{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewRESTStore(RESTConfig{URL: server.URL + "/", APIKey: "anon-key", Timeout: 5 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return fake, store
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	assert.Equal(f.t, "anon-key", r.Header.Get("apikey"))
	assert.Equal(f.t, "Bearer anon-key", r.Header.Get("Authorization"))

	w.Header().Set("Content-Type", "application/json")
	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		w.Write([]byte(`{"message":"permission denied for table chat_messages","code":"42501"}`))
		return
	}

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	filter := func(column string) string {
		return strings.TrimPrefix(r.URL.Query().Get(column), "eq.")
	}

	switch {
	case r.Method == http.MethodPost && table == TableChatMessages:
		var row map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&row))
		row["id"] = len(f.messages) + 1
		row["created_at"] = time.Date(2025, 1, 1, 0, 0, len(f.messages), 0, time.UTC).Format("2006-01-02T15:04:05.999999")
		f.messages = append(f.messages, row)
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodGet && table == TableChatMessages:
		assert.Equal(f.t, "created_at.asc", r.URL.Query().Get("order"))
		out := []map[string]any{}
		for _, m := range f.messages {
			if m["user_google_id"] == filter("user_google_id") {
				out = append(out, m)
			}
		}
		json.NewEncoder(w).Encode(out)

	case r.Method == http.MethodDelete && table == TableChatMessages:
		kept := f.messages[:0]
		for _, m := range f.messages {
			if m["user_google_id"] != filter("user_google_id") {
				kept = append(kept, m)
			}
		}
		f.messages = kept
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPost && table == TableUserLogins:
		var row map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&row))
		f.logins = append(f.logins, row)
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodGet && table == TableUsers:
		out := []map[string]any{}
		if u, ok := f.users[filter("google_id")]; ok {
			out = append(out, map[string]any{"login_count": u["login_count"]})
		}
		json.NewEncoder(w).Encode(out)

	case r.Method == http.MethodPost && table == TableUsers:
		var row map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&row))
		f.users[row["google_id"].(string)] = row
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodPatch && table == TableUsers:
		var row map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&row))
		id := filter("google_id")
		for k, v := range row {
			f.users[id][k] = v
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestRESTMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake, store := newFakePostgREST(t)

	require.NoError(t, store.InsertMessage(ctx, "g-1", RoleUser, "hi"))
	require.NoError(t, store.InsertMessage(ctx, "g-2", RoleUser, "not mine"))
	require.NoError(t, store.InsertMessage(ctx, "g-1", RoleAssistant, "hello"))

	msgs, err := store.ListMessages(ctx, "g-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))

	require.NoError(t, store.DeleteMessages(ctx, "g-1"))
	msgs, err = store.ListMessages(ctx, "g-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.messages, 1)
}

func TestRESTRecordLoginInsertsThenIncrements(t *testing.T) {
	ctx := context.Background()
	fake, store := newFakePostgREST(t)
	rec := LoginRecord{GoogleID: "g-1", Email: "ada@example.com", GivenName: "Ada"}

	require.NoError(t, store.RecordLogin(ctx, rec))
	require.NoError(t, store.RecordLogin(ctx, rec))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.logins, 2)
	assert.Equal(t, "g-1", fake.logins[0]["google_id"])
	assert.Nil(t, fake.logins[0]["family_name"])

	user := fake.users["g-1"]
	require.NotNil(t, user)
	assert.EqualValues(t, 2, user["login_count"])
	assert.NotNil(t, user["first_login_at"])
	assert.NotNil(t, user["updated_at"])
	assert.Contains(t, fake.requests, "PATCH /rest/v1/users")
}

func TestRESTErrorCarriesPostgRESTMessage(t *testing.T) {
	fake, store := newFakePostgREST(t)
	fake.failWith = http.StatusForbidden

	err := store.InsertMessage(context.Background(), "g-1", RoleUser, "hi")
	require.Error(t, err)

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "failed to save message", lerr.Op)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Contains(t, err.Error(), "42501")

	_, err = store.ListMessages(context.Background(), "g-1")
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "failed to fetch messages", lerr.Op)
}

func TestRESTRequiresURLAndKey(t *testing.T) {
	_, err := NewRESTStore(RESTConfig{APIKey: "k"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewRESTStore(RESTConfig{URL: "http://localhost"}, zerolog.Nop())
	assert.Error(t, err)
}
