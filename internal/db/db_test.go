package db

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemserve/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "chat.db")}
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateSession_TruncatesTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	session, err := s.CreateSession(ctx, strings.Repeat("x", 150))
	require.NoError(t, err)
	assert.NotZero(t, session.ID)
	assert.Equal(t, strings.Repeat("x", 100)+"...", session.Title)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Title, got.Title)
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSessionMessages_LimitKeepsMostRecentInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, "hello")
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := s.SaveMessage(ctx, session.ID, role, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	all, err := s.GetSessionMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "m0", all[0].Content)

	last, err := s.GetSessionMessages(ctx, session.ID, 3)
	require.NoError(t, err)
	require.Len(t, last, 3)
	assert.Equal(t, []string{"m3", "m4", "m5"}, []string{last[0].Content, last[1].Content, last[2].Content})
}

func TestCheckSessionHasFiles_OnlyProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, "doc chat")
	require.NoError(t, err)

	has, err := s.CheckSessionHasFiles(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, has)

	f, err := s.SaveFileMetadata(ctx, session.ID, "notes.txt", "/tmp/notes.txt", "txt")
	require.NoError(t, err)

	has, err = s.CheckSessionHasFiles(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.MarkFileProcessed(ctx, f.ID))
	has, err = s.CheckSessionHasFiles(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := s.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.IsProcessed)
}

func TestDeleteSession_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, "bye")
	require.NoError(t, err)
	_, err = s.SaveMessage(ctx, session.ID, RoleUser, "bye")
	require.NoError(t, err)
	_, err = s.SaveFileMetadata(ctx, session.ID, "a.md", "/tmp/a.md", "md")
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, session.ID))

	msgs, err := s.GetSessionMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	files, err := s.GetSessionFiles(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	assert.ErrorIs(t, s.DeleteSession(ctx, session.ID), ErrNotFound)
}

func TestListSessions_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first, err := s.CreateSession(ctx, "first")
	require.NoError(t, err)
	second, err := s.CreateSession(ctx, "second")
	require.NoError(t, err)

	_, err = s.SaveMessage(ctx, first.ID, RoleUser, "bump")
	require.NoError(t, err)

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}
