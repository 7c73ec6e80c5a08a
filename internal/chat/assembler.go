package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"gemserve/internal/config"
	"gemserve/internal/db"
	"gemserve/internal/helper"
	"gemserve/internal/models"
	"gemserve/internal/profile"
)

// HistorySource is the part of the relational store the assembler reads.
type HistorySource interface {
	GetSessionMessages(ctx context.Context, sessionID int64, limit int) ([]db.Message, error)
	CheckSessionHasFiles(ctx context.Context, sessionID int64) (bool, error)
}

// Retriever returns the chunks most relevant to text. ok is false when nothing could be looked up.
type Retriever interface {
	Query(ctx context.Context, sessionID int64, text string, k int) ([]models.RetrievedChunk, bool)
}

type ProfileSource interface {
	Load() (profile.Profile, error)
}

// Assembler composes the prompt for one turn. Sections always appear in the same order:
// system, name, notes, history, document context, current query.
type Assembler struct {
	history   HistorySource
	retriever Retriever
	profile   ProfileSource
	llm       config.InferenceConfig
	rag       config.RAGConfig
}

func NewAssembler(history HistorySource, retriever Retriever, profile ProfileSource, llm config.InferenceConfig, rag config.RAGConfig) *Assembler {
	return &Assembler{history: history, retriever: retriever, profile: profile, llm: llm, rag: rag}
}

// BuildPrompt never fails: a collaborator that errors only drops its own section.
func (a *Assembler) BuildPrompt(ctx context.Context, sessionID int64, query, mode string) string {
	name, m := a.llm.Mode(mode)
	logger := log.With().Int64("session_id", sessionID).Str("mode", name).Logger()

	parts := []string{models.SystemPrompt}

	if a.profile != nil {
		p, err := a.profile.Load()
		if err != nil {
			logger.Warn().Err(err).Msg("Error loading profile")
		}
		if p.Name != "" {
			parts = append(parts, fmt.Sprintf("\n%s %s", models.ProfileNameLabel, p.Name))
		}
		if notes := strings.TrimSpace(p.Notes); notes != "" {
			parts = append(parts, "\n"+models.ProfileNotesLabel, notes)
		}
	}

	hasFiles := false
	if sessionID > 0 {
		var err error
		hasFiles, err = a.history.CheckSessionHasFiles(ctx, sessionID)
		if err != nil {
			logger.Warn().Err(err).Msg("Error checking session files")
			hasFiles = false
		}

		limit := m.HistoryLimit(hasFiles)
		history, err := a.history.GetSessionMessages(ctx, sessionID, limit)
		if err != nil {
			logger.Warn().Err(err).Msg("Error loading history")
		}
		if len(history) > 0 {
			parts = append(parts, "\n"+models.HistoryMarker)
			for _, msg := range history {
				parts = append(parts, fmt.Sprintf("%s: %s", roleLabel(msg.Role), msg.Content))
			}
		}
		logger.Debug().Bool("has_files", hasFiles).Int("history_limit", limit).Int("history", len(history)).Msg("Loaded history")
	}

	if hasFiles && a.retriever != nil {
		chunks, ok := a.retriever.Query(ctx, sessionID, query, a.rag.MaxChunks)
		if ok && len(chunks) > 0 {
			parts = append(parts, "\n"+models.DocumentContextMarker)
			for _, c := range chunks {
				parts = append(parts, fmt.Sprintf("\n[From %s]", c.Filename), c.Content)
			}
		} else {
			logger.Debug().Msg("Proceeding without document context")
		}
	}

	parts = append(parts,
		"\n"+models.CurrentQueryMarker,
		"User: "+query,
		models.AssistantCue,
	)
	prompt := strings.Join(parts, "\n")

	tokens := helper.EstimateTokens(prompt)
	logger.Debug().Int("tokens", tokens).Msg("Context tokens")
	if budget := a.llm.PromptBudget(); budget > 0 && tokens > budget {
		logger.Warn().Int("tokens", tokens).Int("budget", budget).Msg("Prompt exceeds context budget")
	}
	return prompt
}

func roleLabel(role string) string {
	switch role {
	case db.RoleUser:
		return "User"
	case db.RoleAssistant:
		return "Assistant"
	}
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
