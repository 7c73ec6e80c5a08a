package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemserve/internal/chromemdb"
	"gemserve/internal/config"
	"gemserve/internal/db"
	"gemserve/internal/models"
	"gemserve/internal/profile"
	"gemserve/internal/rag"
)

type historyMock struct {
	GetSessionMessagesFunc   func(ctx context.Context, sessionID int64, limit int) ([]db.Message, error)
	CheckSessionHasFilesFunc func(ctx context.Context, sessionID int64) (bool, error)
}

func (m *historyMock) GetSessionMessages(ctx context.Context, sessionID int64, limit int) ([]db.Message, error) {
	return m.GetSessionMessagesFunc(ctx, sessionID, limit)
}

func (m *historyMock) CheckSessionHasFiles(ctx context.Context, sessionID int64) (bool, error) {
	return m.CheckSessionHasFilesFunc(ctx, sessionID)
}

type retrieverMock struct {
	QueryFunc func(ctx context.Context, sessionID int64, text string, k int) ([]models.RetrievedChunk, bool)
}

func (m *retrieverMock) Query(ctx context.Context, sessionID int64, text string, k int) ([]models.RetrievedChunk, bool) {
	return m.QueryFunc(ctx, sessionID, text, k)
}

type profileMock struct {
	LoadFunc func() (profile.Profile, error)
}

func (m *profileMock) Load() (profile.Profile, error) {
	return m.LoadFunc()
}

func conversation(n int) []db.Message {
	out := make([]db.Message, 0, n)
	for i := 0; i < n; i++ {
		role := db.RoleUser
		if i%2 == 1 {
			role = db.RoleAssistant
		}
		out = append(out, db.Message{ID: int64(i + 1), Role: role, Content: fmt.Sprintf("message %d", i)})
	}
	return out
}

func newAssembler(history HistorySource, retriever Retriever, p ProfileSource) *Assembler {
	cfg := config.Default()
	return NewAssembler(history, retriever, p, cfg.LLM, cfg.RAG)
}

// assertOrdered checks that every marker occurs in prompt, each after the previous one.
func assertOrdered(t *testing.T, prompt string, markers ...string) {
	t.Helper()
	last := -1
	for _, marker := range markers {
		idx := strings.Index(prompt[last+1:], marker)
		require.GreaterOrEqual(t, idx, 0, "marker %q missing or out of order", marker)
		last += 1 + idx
	}
}

func TestBuildPrompt_SectionOrder(t *testing.T) {
	history := &historyMock{
		CheckSessionHasFilesFunc: func(ctx context.Context, sessionID int64) (bool, error) { return true, nil },
		GetSessionMessagesFunc: func(ctx context.Context, sessionID int64, limit int) ([]db.Message, error) {
			return conversation(2), nil
		},
	}
	retriever := &retrieverMock{
		QueryFunc: func(ctx context.Context, sessionID int64, text string, k int) ([]models.RetrievedChunk, bool) {
			assert.Equal(t, 8, k)
			assert.Equal(t, "what does the report say?", text)
			return []models.RetrievedChunk{
				{Filename: "report.pdf", Content: "Revenue grew."},
				{Filename: "notes.txt", Content: "Costs fell."},
			}, true
		},
	}
	p := &profileMock{LoadFunc: func() (profile.Profile, error) {
		return profile.Profile{Name: "Asha", Notes: "Likes bullet points."}, nil
	}}

	prompt := newAssembler(history, retriever, p).BuildPrompt(context.Background(), 1, "what does the report say?", config.ModeFast)

	assert.True(t, strings.HasPrefix(prompt, models.SystemPrompt))
	assertOrdered(t, prompt,
		models.SystemPrompt,
		"User's name: Asha",
		models.ProfileNotesLabel,
		"Likes bullet points.",
		models.HistoryMarker,
		"User: message 0",
		"Assistant: message 1",
		models.DocumentContextMarker,
		"[From report.pdf]\nRevenue grew.",
		"[From notes.txt]\nCosts fell.",
		models.CurrentQueryMarker,
		"User: what does the report say?",
	)
	assert.True(t, strings.HasSuffix(prompt, "\n"+models.AssistantCue))
}

func TestBuildPrompt_HistoryLimitTable(t *testing.T) {
	cases := []struct {
		mode     string
		hasFiles bool
		limit    int
	}{
		{config.ModeFast, false, 20},
		{config.ModeFast, true, 10},
		{config.ModeThinking, false, 30},
		{config.ModeThinking, true, 20},
		{"unknown", false, 20},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/files=%v", tc.mode, tc.hasFiles), func(t *testing.T) {
			var got int
			history := &historyMock{
				CheckSessionHasFilesFunc: func(ctx context.Context, sessionID int64) (bool, error) { return tc.hasFiles, nil },
				GetSessionMessagesFunc: func(ctx context.Context, sessionID int64, limit int) ([]db.Message, error) {
					got = limit
					return nil, nil
				},
			}
			retriever := &retrieverMock{
				QueryFunc: func(ctx context.Context, sessionID int64, text string, k int) ([]models.RetrievedChunk, bool) {
					return nil, false
				},
			}
			newAssembler(history, retriever, nil).BuildPrompt(context.Background(), 3, "hi", tc.mode)
			assert.Equal(t, tc.limit, got)
		})
	}
}

func TestBuildPrompt_RetrievalFailureOmitsSection(t *testing.T) {
	history := &historyMock{
		CheckSessionHasFilesFunc: func(ctx context.Context, sessionID int64) (bool, error) { return true, nil },
		GetSessionMessagesFunc: func(ctx context.Context, sessionID int64, limit int) ([]db.Message, error) {
			return nil, nil
		},
	}
	retriever := &retrieverMock{
		QueryFunc: func(ctx context.Context, sessionID int64, text string, k int) ([]models.RetrievedChunk, bool) {
			return nil, false
		},
	}

	prompt := newAssembler(history, retriever, nil).BuildPrompt(context.Background(), 1, "summarise", config.ModeFast)
	assert.NotContains(t, prompt, models.DocumentContextMarker)
	assert.NotContains(t, prompt, models.HistoryMarker)
	assertOrdered(t, prompt, models.SystemPrompt, models.CurrentQueryMarker, "User: summarise", models.AssistantCue)
}

func TestBuildPrompt_NoFilesSkipsRetrieval(t *testing.T) {
	history := &historyMock{
		CheckSessionHasFilesFunc: func(ctx context.Context, sessionID int64) (bool, error) { return false, nil },
		GetSessionMessagesFunc: func(ctx context.Context, sessionID int64, limit int) ([]db.Message, error) {
			return conversation(4), nil
		},
	}
	retriever := &retrieverMock{
		QueryFunc: func(ctx context.Context, sessionID int64, text string, k int) ([]models.RetrievedChunk, bool) {
			t.Fatal("retrieval must not run for a session without files")
			return nil, false
		},
	}

	prompt := newAssembler(history, retriever, nil).BuildPrompt(context.Background(), 1, "hello", config.ModeFast)
	assert.Contains(t, prompt, models.HistoryMarker)
	assert.NotContains(t, prompt, models.DocumentContextMarker)
}

func TestBuildPrompt_CollaboratorErrorsDegrade(t *testing.T) {
	var limit int
	history := &historyMock{
		CheckSessionHasFilesFunc: func(ctx context.Context, sessionID int64) (bool, error) {
			return true, errors.New("database is locked")
		},
		GetSessionMessagesFunc: func(ctx context.Context, sessionID int64, l int) ([]db.Message, error) {
			limit = l
			return nil, errors.New("database is locked")
		},
	}
	p := &profileMock{LoadFunc: func() (profile.Profile, error) {
		return profile.Profile{}, errors.New("bad json")
	}}

	prompt := newAssembler(history, nil, p).BuildPrompt(context.Background(), 1, "hello", config.ModeFast)
	assert.Equal(t, 20, limit)
	assert.NotContains(t, prompt, models.ProfileNameLabel)
	assert.NotContains(t, prompt, models.HistoryMarker)
	assert.Contains(t, prompt, "User: hello")
}

func TestBuildPrompt_BlankNotesOmitted(t *testing.T) {
	history := &historyMock{
		CheckSessionHasFilesFunc: func(ctx context.Context, sessionID int64) (bool, error) { return false, nil },
		GetSessionMessagesFunc: func(ctx context.Context, sessionID int64, limit int) ([]db.Message, error) {
			return nil, nil
		},
	}
	p := &profileMock{LoadFunc: func() (profile.Profile, error) {
		return profile.Profile{Name: "Ravi", Notes: "  \n "}, nil
	}}

	prompt := newAssembler(history, nil, p).BuildPrompt(context.Background(), 1, "hello", config.ModeFast)
	assert.Contains(t, prompt, "\nUser's name: Ravi")
	assert.NotContains(t, prompt, models.ProfileNotesLabel)
}

func TestBuildPrompt_NewSessionHasNoHistory(t *testing.T) {
	history := &historyMock{
		CheckSessionHasFilesFunc: func(ctx context.Context, sessionID int64) (bool, error) {
			t.Fatal("no lookups for session 0")
			return false, nil
		},
		GetSessionMessagesFunc: func(ctx context.Context, sessionID int64, limit int) ([]db.Message, error) {
			t.Fatal("no lookups for session 0")
			return nil, nil
		},
	}
	prompt := newAssembler(history, nil, nil).BuildPrompt(context.Background(), 0, "hello", config.ModeFast)
	assertOrdered(t, prompt, models.SystemPrompt, models.CurrentQueryMarker, "User: hello", models.AssistantCue)
}

// letterEmbedder embeds text as its letter histogram.
type letterEmbedder struct{}

func (letterEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 27)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	v[26] = 1
	return v, nil
}

func (e letterEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, _ := e.EmbedQuery(ctx, t)
		out = append(out, v)
	}
	return out, nil
}

func newRetrievalStore(t *testing.T) *rag.Store {
	t.Helper()
	vdb, err := chromemdb.NewVectorDBManager("", true, false, "", rag.EmbeddingFunc(letterEmbedder{}))
	require.NoError(t, err)
	return rag.NewStore(vdb, letterEmbedder{}, 4)
}

func newDBStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(context.Background(), &config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBuildPrompt_FastModeWithProcessedFile(t *testing.T) {
	ctx := context.Background()
	store := newDBStore(t)
	index := newRetrievalStore(t)

	session, err := store.CreateSession(ctx, "quarterly report")
	require.NoError(t, err)
	for _, m := range conversation(14) {
		_, err := store.SaveMessage(ctx, session.ID, m.Role, m.Content)
		require.NoError(t, err)
	}
	file, err := store.SaveFileMetadata(ctx, session.ID, "report.txt", "/tmp/report.txt", "txt")
	require.NoError(t, err)
	require.True(t, index.AddChunks(ctx, session.ID, file.ID, file.Filename, []string{
		"Revenue grew by ten percent.",
		"Costs were flat across the year.",
		"Headcount rose in engineering.",
	}))
	require.NoError(t, store.MarkFileProcessed(ctx, file.ID))

	prompt := newAssembler(store, index, nil).BuildPrompt(ctx, session.ID, "How did revenue change?", config.ModeFast)

	assertOrdered(t, prompt,
		models.SystemPrompt,
		models.HistoryMarker,
		models.DocumentContextMarker,
		models.CurrentQueryMarker,
		"User: How did revenue change?",
		models.AssistantCue,
	)

	historyStart := strings.Index(prompt, models.HistoryMarker)
	docStart := strings.Index(prompt, models.DocumentContextMarker)
	historyLines := 0
	for _, line := range strings.Split(prompt[historyStart:docStart], "\n") {
		if strings.HasPrefix(line, "User: ") || strings.HasPrefix(line, "Assistant: ") {
			historyLines++
		}
	}
	assert.Equal(t, 10, historyLines)
	assert.NotContains(t, prompt, "message 3\n")
	assert.Contains(t, prompt, "Assistant: message 13")

	fromCount := strings.Count(prompt, "[From report.txt]")
	assert.Equal(t, 3, fromCount)
	assert.LessOrEqual(t, fromCount, 8)
}
