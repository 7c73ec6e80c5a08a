package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"

	"gemserve/internal/config"
	"gemserve/internal/helper"
	"gemserve/internal/models"
)

var ErrNotFound = errors.New("record not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Session struct {
	bun.BaseModel `bun:"table:chat_sessions,alias:s"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Title         string    `bun:"title,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`
	ID            int64     `bun:"id,pk,autoincrement"`
	SessionID     int64     `bun:"session_id,notnull"`
	Role          string    `bun:"role,notnull"`
	Content       string    `bun:"content,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type UploadedFile struct {
	bun.BaseModel `bun:"table:uploaded_files,alias:f"`
	ID            int64     `bun:"id,pk,autoincrement"`
	SessionID     int64     `bun:"session_id,notnull"`
	Filename      string    `bun:"filename,notnull"`
	FilePath      string    `bun:"file_path,notnull"`
	FileType      string    `bun:"file_type"`
	UploadedAt    time.Time `bun:"upload_date,notnull"`
	IsProcessed   bool      `bun:"is_processed,notnull,default:false"`
}

// Store is the relational store for sessions, messages and uploaded file metadata.
type Store struct {
	db *bun.DB
}

// ConnectDB opens the configured database. sqlite runs on the pure-Go modernc driver with a
// single connection so writes serialise through one handle.
func ConnectDB(cfg *config.DatabaseConfig) (*bun.DB, error) {
	var db *bun.DB
	switch cfg.Driver {
	case "sqlite", "":
		if err := helper.CreateFolder(filepath.Dir(cfg.DSN)); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.DSN)
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case "postgres":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Open connects and creates the schema.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	db, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	s := NewStore(db)
	if err := s.InitDB(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InitDB(ctx context.Context) error {
	for _, model := range []interface{}{(*Session)(nil), (*Message)(nil), (*UploadedFile)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	if _, err := s.db.NewCreateIndex().Model((*Message)(nil)).Index("idx_messages_session").
		Column("session_id").IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if _, err := s.db.NewCreateIndex().Model((*UploadedFile)(nil)).Index("idx_files_session").
		Column("session_id").IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	log.Debug().Msg("Database initialized")
	return nil
}

// CreateSession starts a session titled after the first message.
func (s *Store) CreateSession(ctx context.Context, firstMessage string) (*Session, error) {
	now := time.Now()
	session := &Session{
		Title:     helper.TruncateText(firstMessage, models.TitleMaxLength),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(session).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.Info().Int64("session_id", session.ID).Str("title", session.Title).Msg("Created session")
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID int64) (*Session, error) {
	session := new(Session)
	err := s.db.NewSelect().Model(session).Where("id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := s.db.NewSelect().Model(&sessions).OrderExpr("updated_at DESC").OrderExpr("id DESC").Scan(ctx)
	return sessions, err
}

func (s *Store) TouchSession(ctx context.Context, sessionID int64) error {
	_, err := s.db.NewUpdate().Model((*Session)(nil)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", sessionID).
		Exec(ctx)
	return err
}

// DeleteSession removes the session together with its messages and file rows.
func (s *Store) DeleteSession(ctx context.Context, sessionID int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Message)(nil)).Where("session_id = ?", sessionID).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if _, err := tx.NewDelete().Model((*UploadedFile)(nil)).Where("session_id = ?", sessionID).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete files: %w", err)
		}
		res, err := tx.NewDelete().Model((*Session)(nil)).Where("id = ?", sessionID).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveMessage appends a message and bumps the session's updated timestamp.
func (s *Store) SaveMessage(ctx context.Context, sessionID int64, role, content string) (*Message, error) {
	msg := &Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if _, err := s.db.NewInsert().Model(msg).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	if err := s.TouchSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to update session timestamp: %w", err)
	}
	return msg, nil
}

// GetSessionMessages returns the session's messages in chronological order. A positive limit
// keeps only the most recent limit messages.
func (s *Store) GetSessionMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	var messages []Message
	q := s.db.NewSelect().Model(&messages).Where("session_id = ?", sessionID)
	if limit > 0 {
		q = q.OrderExpr("id DESC").Limit(limit)
	} else {
		q = q.OrderExpr("id ASC")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	if limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

func (s *Store) SaveFileMetadata(ctx context.Context, sessionID int64, filename, filePath, fileType string) (*UploadedFile, error) {
	f := &UploadedFile{
		SessionID:  sessionID,
		Filename:   filename,
		FilePath:   filePath,
		FileType:   fileType,
		UploadedAt: time.Now(),
	}
	if _, err := s.db.NewInsert().Model(f).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to save file metadata: %w", err)
	}
	return f, nil
}

func (s *Store) GetFile(ctx context.Context, fileID int64) (*UploadedFile, error) {
	f := new(UploadedFile)
	err := s.db.NewSelect().Model(f).Where("id = ?", fileID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) MarkFileProcessed(ctx context.Context, fileID int64) error {
	_, err := s.db.NewUpdate().Model((*UploadedFile)(nil)).
		Set("is_processed = ?", true).
		Where("id = ?", fileID).
		Exec(ctx)
	return err
}

func (s *Store) GetSessionFiles(ctx context.Context, sessionID int64) ([]UploadedFile, error) {
	var files []UploadedFile
	err := s.db.NewSelect().Model(&files).
		Where("session_id = ?", sessionID).
		OrderExpr("upload_date ASC").OrderExpr("id ASC").
		Scan(ctx)
	return files, err
}

// CheckSessionHasFiles reports whether at least one processed file exists for the session.
func (s *Store) CheckSessionHasFiles(ctx context.Context, sessionID int64) (bool, error) {
	count, err := s.db.NewSelect().Model((*UploadedFile)(nil)).
		Where("session_id = ?", sessionID).
		Where("is_processed = ?", true).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RemoveStoredFiles deletes the uploaded copies on disk; missing files are ignored.
func RemoveStoredFiles(files []UploadedFile) {
	for _, f := range files {
		if err := os.Remove(f.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", f.FilePath).Msg("Failed to remove stored upload")
		}
	}
}
