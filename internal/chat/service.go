package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gemserve/internal/config"
	"gemserve/internal/db"
	"gemserve/internal/helper"
	"gemserve/internal/models"
	"gemserve/internal/parser"
)

var (
	ErrBusy       = errors.New("a reply is already being generated for this session")
	ErrEmptyQuery = errors.New("query is empty")
)

// Store is the relational store as seen by the chat service.
type Store interface {
	HistorySource
	CreateSession(ctx context.Context, firstMessage string) (*db.Session, error)
	GetSession(ctx context.Context, sessionID int64) (*db.Session, error)
	ListSessions(ctx context.Context) ([]db.Session, error)
	DeleteSession(ctx context.Context, sessionID int64) error
	SaveMessage(ctx context.Context, sessionID int64, role, content string) (*db.Message, error)
	SaveFileMetadata(ctx context.Context, sessionID int64, filename, filePath, fileType string) (*db.UploadedFile, error)
	GetFile(ctx context.Context, fileID int64) (*db.UploadedFile, error)
	MarkFileProcessed(ctx context.Context, fileID int64) error
	GetSessionFiles(ctx context.Context, sessionID int64) ([]db.UploadedFile, error)
}

// Index is the per-session retrieval store.
type Index interface {
	Retriever
	AddChunks(ctx context.Context, sessionID, fileID int64, filename string, chunks []string) bool
	DeleteCollection(sessionID int64)
}

// Generator turns a prompt into an answer, or into a user-facing error message when ok is false.
type Generator interface {
	Reply(ctx context.Context, prompt, mode string) (string, bool)
}

// Service runs chat turns and document uploads for sessions.
type Service struct {
	cfg       *config.Config
	store     Store
	index     Index
	llm       Generator
	assembler *Assembler
	inflight  sync.Map // session id -> struct{}
}

func NewService(cfg *config.Config, store Store, index Index, llm Generator, profile ProfileSource) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		index:     index,
		llm:       llm,
		assembler: NewAssembler(store, index, profile, cfg.LLM, cfg.RAG),
	}
}

// Send runs one turn. sessionID 0 starts a new session titled after the query. The prompt only
// sees earlier messages; the query is stored before the model is called and the answer only
// when generation succeeded.
func (s *Service) Send(ctx context.Context, sessionID int64, query, mode string) (*models.PromptResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	if sessionID == 0 {
		session, err := s.store.CreateSession(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = session.ID
	}

	if _, busy := s.inflight.LoadOrStore(sessionID, struct{}{}); busy {
		return nil, ErrBusy
	}
	defer s.inflight.Delete(sessionID)

	turnID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	name, _ := s.cfg.LLM.Mode(mode)
	logger := log.With().Str("turn_id", turnID).Int64("session_id", sessionID).Str("mode", name).Logger()
	start := time.Now()

	prompt := s.assembler.BuildPrompt(ctx, sessionID, query, name)

	if _, err := s.store.SaveMessage(ctx, sessionID, db.RoleUser, query); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	answer, ok := s.llm.Reply(ctx, prompt, name)
	resp := &models.PromptResponse{
		ID:           turnID,
		SessionID:    sessionID,
		Query:        query,
		Mode:         name,
		Content:      answer,
		Failed:       !ok,
		PromptTokens: helper.EstimateTokens(prompt),
	}
	if !ok {
		logger.Warn().Dur("took", time.Since(start)).Msg("Turn failed")
		return resp, nil
	}

	if _, err := s.store.SaveMessage(ctx, sessionID, db.RoleAssistant, answer); err != nil {
		return resp, fmt.Errorf("failed to save assistant message: %w", err)
	}
	logger.Info().Dur("took", time.Since(start)).Int("prompt_tokens", resp.PromptTokens).Msg("Turn completed")
	return resp, nil
}

// Busy reports whether a turn is in flight for the session.
func (s *Service) Busy(sessionID int64) bool {
	_, busy := s.inflight.Load(sessionID)
	return busy
}

// UploadResult describes an upload. Processed is false when extraction or embedding failed; the
// file stays recorded and can be retried with Reprocess.
type UploadResult struct {
	File      *db.UploadedFile
	Chunks    int
	Processed bool
	Err       error
}

// Upload copies path into the uploads folder, records it for the session and indexes it.
// sessionID 0 starts a new session titled after the file.
func (s *Service) Upload(ctx context.Context, sessionID int64, path string) (*UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	fileType := parser.FileType(path)
	if !parser.Supported(fileType) {
		return nil, fmt.Errorf("%w: %s", parser.ErrUnsupportedType, fileType)
	}

	filename := filepath.Base(path)
	if sessionID == 0 {
		session, err := s.store.CreateSession(ctx, "Document: "+filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = session.ID
	}

	stored, err := s.copyUpload(path)
	if err != nil {
		return nil, err
	}

	file, err := s.store.SaveFileMetadata(ctx, sessionID, filename, stored, fileType)
	if err != nil {
		_ = os.Remove(stored)
		return nil, err
	}
	log.Info().Int64("session_id", sessionID).Int64("file_id", file.ID).Str("filename", filename).Msg("File uploaded")

	return s.process(ctx, file), nil
}

// Reprocess retries indexing of a file whose earlier processing failed.
func (s *Service) Reprocess(ctx context.Context, fileID int64) (*UploadResult, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsProcessed {
		return &UploadResult{File: file, Processed: true}, nil
	}
	return s.process(ctx, file), nil
}

func (s *Service) process(ctx context.Context, file *db.UploadedFile) *UploadResult {
	logger := log.With().Int64("session_id", file.SessionID).Int64("file_id", file.ID).Str("filename", file.Filename).Logger()
	result := &UploadResult{File: file}

	chunks, err := parser.ProcessFile(file.FilePath, &s.cfg.RAG)
	if err != nil {
		logger.Error().Err(err).Msg("Error extracting text")
		result.Err = err
		return result
	}
	result.Chunks = len(chunks)

	if !s.index.AddChunks(ctx, file.SessionID, file.ID, file.Filename, chunks) {
		result.Err = errors.New("no chunk could be embedded")
		return result
	}
	if err := s.store.MarkFileProcessed(ctx, file.ID); err != nil {
		logger.Error().Err(err).Msg("Error marking file processed")
		result.Err = err
		return result
	}
	file.IsProcessed = true
	result.Processed = true
	logger.Info().Int("chunks", len(chunks)).Msg("File processed")
	return result
}

func (s *Service) copyUpload(src string) (string, error) {
	if err := helper.CreateFolder(s.cfg.Uploads.Dir); err != nil {
		return "", err
	}
	id, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.cfg.Uploads.Dir, id+filepath.Ext(src))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to copy upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

// DeleteSession removes the session rows, the stored upload copies and the retrieval collection.
func (s *Service) DeleteSession(ctx context.Context, sessionID int64) error {
	files, err := s.store.GetSessionFiles(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to list session files: %w", err)
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	db.RemoveStoredFiles(files)
	s.index.DeleteCollection(sessionID)
	log.Info().Int64("session_id", sessionID).Int("files", len(files)).Msg("Session deleted")
	return nil
}

func (s *Service) ListSessions(ctx context.Context) ([]db.Session, error) {
	return s.store.ListSessions(ctx)
}

// Transcript returns the session and all of its messages, oldest first.
func (s *Service) Transcript(ctx context.Context, sessionID int64) (*db.Session, []db.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.store.GetSessionMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, nil, err
	}
	return session, messages, nil
}

func (s *Service) Files(ctx context.Context, sessionID int64) ([]db.UploadedFile, error) {
	return s.store.GetSessionFiles(ctx, sessionID)
}
