package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger", "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Deterministic, strictly increasing clock
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return store
}

func TestSQLiteMessagesRoundTripInOrder(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)

	require.NoError(t, store.InsertMessage(ctx, "u1", RoleUser, "hi"))
	require.NoError(t, store.InsertMessage(ctx, "u1", RoleAssistant, "hello"))
	require.NoError(t, store.InsertMessage(ctx, "u2", RoleUser, "other user"))
	require.NoError(t, store.InsertMessage(ctx, "u1", RoleUser, "again"))

	msgs, err := store.ListMessages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "again", msgs[2].Content)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
	}
	assert.NotEmpty(t, msgs[0].ID)
}

func TestSQLiteListUnknownUserIsEmpty(t *testing.T) {
	msgs, err := newSQLite(t).ListMessages(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSQLiteUserIDIsOpaque(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)
	odd := `1089'; DROP TABLE chat_messages; --`

	require.NoError(t, store.InsertMessage(ctx, odd, RoleUser, "hi"))
	msgs, err := store.ListMessages(ctx, odd)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, odd, msgs[0].UserID)
}

func TestSQLiteDeleteMessagesOnlyTouchesOneUser(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)

	require.NoError(t, store.InsertMessage(ctx, "u1", RoleUser, "a"))
	require.NoError(t, store.InsertMessage(ctx, "u2", RoleUser, "b"))
	require.NoError(t, store.DeleteMessages(ctx, "u1"))

	u1, err := store.ListMessages(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u1)

	u2, err := store.ListMessages(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, u2, 1)
}

func TestSQLiteRecordLoginCountsLogins(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)
	rec := LoginRecord{GoogleID: "g-1", Email: "ada@example.com", FullName: "Ada Lovelace"}

	count, err := store.LoginCount(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, store.RecordLogin(ctx, rec))
	count, err = store.LoginCount(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.RecordLogin(ctx, rec))
	require.NoError(t, store.RecordLogin(ctx, rec))
	count, err = store.LoginCount(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var events int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM user_logins WHERE google_id = ?`, "g-1").Scan(&events))
	assert.Equal(t, 3, events)
}

func TestSQLiteErrorsAreLedgerErrors(t *testing.T) {
	store := newSQLite(t)
	require.NoError(t, store.Close())

	err := store.InsertMessage(context.Background(), "u1", RoleUser, "hi")
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "failed to save message", lerr.Op)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "mongo"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenSQLite(t *testing.T) {
	store, err := Open(context.Background(), Options{
		Backend:    BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "chat.db"),
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
