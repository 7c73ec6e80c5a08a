package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeFast     = "fast"
	ModeThinking = "thinking"
)

type Config struct {
	Database DatabaseConfig  `yaml:"database"`
	Vector   VectorConfig    `yaml:"vector"`
	EmbedLLM LLMConfig       `yaml:"embed"`
	LLM      InferenceConfig `yaml:"llm"`
	RAG      RAGConfig       `yaml:"rag"`
	Files    FilesConfig     `yaml:"files"`
	Profile  ProfileConfig   `yaml:"profile"`
	Uploads  UploadsConfig   `yaml:"uploads"`
	Log      LogConfig       `yaml:"log"`
}

// DatabaseConfig selects the relational store. Driver is "sqlite" (DSN is a file path) or
// "postgres" (DSN is a postgres URL).
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

type VectorConfig struct {
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

// LLMConfig describes the embedding backend.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Key       string `yaml:"key"`
	BatchSize int    `yaml:"batch_size"`
}

// InferenceConfig describes the generation backend. Provider is "ollama" (native /api/generate)
// or "openai" (any OpenAI-compatible endpoint).
type InferenceConfig struct {
	Provider               string                `yaml:"provider"`
	BaseURL                string                `yaml:"base_url"`
	Key                    string                `yaml:"key"`
	DefaultMode            string                `yaml:"default_mode"`
	MaxRetries             int                   `yaml:"max_retries"`
	RetryDelay             time.Duration         `yaml:"retry_delay"`
	MinResponseChars       int                   `yaml:"min_response_chars"`
	ContextTokens          int                   `yaml:"context_tokens"`
	ReservedResponseTokens int                   `yaml:"reserved_response_tokens"`
	Modes                  map[string]ModeConfig `yaml:"modes"`
}

// ModeConfig is one row of the mode table: model identity, timeout and history allowance.
type ModeConfig struct {
	Model            string        `yaml:"model"`
	Description      string        `yaml:"description"`
	Timeout          time.Duration `yaml:"timeout"`
	HistoryNoFiles   int           `yaml:"history_no_files"`
	HistoryWithFiles int           `yaml:"history_with_files"`
}

// HistoryLimit returns how many prior messages go into the prompt.
func (m ModeConfig) HistoryLimit(hasFiles bool) int {
	if hasFiles {
		return m.HistoryWithFiles
	}
	return m.HistoryNoFiles
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	MaxChunks    int `yaml:"max_chunks"`
}

type FilesConfig struct {
	CacheDir       string        `yaml:"cache_dir"`
	CacheLimit     int           `yaml:"cache_limit"`
	MaxDepth       int           `yaml:"max_depth"`
	MatchThreshold int           `yaml:"match_threshold"`
	PendingTTL     time.Duration `yaml:"pending_ttl"`
	SkipFolders    []string      `yaml:"skip_folders"`
}

// ProfileConfig points at the profile file ({"name": ...}) and the notes file ({"notes": ...}).
type ProfileConfig struct {
	Path      string `yaml:"path"`
	NotesPath string `yaml:"notes_path"`
}

type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/chat.db",
		},
		Vector: VectorConfig{
			Path: "./data/chroma_db",
		},
		EmbedLLM: LLMConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "embeddinggemma:latest",
			BatchSize: 4,
		},
		LLM: InferenceConfig{
			Provider:               "ollama",
			BaseURL:                "http://localhost:11434",
			DefaultMode:            ModeFast,
			MaxRetries:             2,
			RetryDelay:             time.Second,
			MinResponseChars:       10,
			ContextTokens:          32000,
			ReservedResponseTokens: 8000,
			Modes: map[string]ModeConfig{
				ModeFast: {
					Model:            "gemma3:270m",
					Description:      "Fast responses - optimized for quick answers",
					Timeout:          120 * time.Second,
					HistoryNoFiles:   20,
					HistoryWithFiles: 10,
				},
				ModeThinking: {
					Model:            "gemma3n:e2b",
					Description:      "Thinking mode - optimized for detailed analysis",
					Timeout:          180 * time.Second,
					HistoryNoFiles:   30,
					HistoryWithFiles: 20,
				},
			},
		},
		RAG: RAGConfig{
			ChunkSize:    1800,
			ChunkOverlap: 200,
			MaxChunks:    8,
		},
		Files: FilesConfig{
			CacheDir:       "./file_history",
			CacheLimit:     15,
			MaxDepth:       15,
			MatchThreshold: 50,
			PendingTTL:     10 * time.Minute,
			SkipFolders: []string{
				"Windows",
				"System Volume Information",
				"$Recycle.Bin",
				"ProgramData",
				"Program Files",
				"Program Files (x86)",
				"System32",
				"SysWOW64",
				"node_modules",
				"venv",
				".git",
				"AppData",
			},
		},
		Profile: ProfileConfig{
			Path:      "./user_data.json",
			NotesPath: "./user_notes.json",
		},
		Uploads: UploadsConfig{
			Dir: "./data/uploaded_files",
		},
		Log: LogConfig{
			Level:      "debug",
			File:       "./data/app.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies GEMSERVE_* environment
// overrides. A .env file in the working directory is loaded first; a missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			defaults := maps.Clone(cfg.LLM.Modes)
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
			cfg.LLM.fillModes(defaults)
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillModes completes partially configured mode rows from the built-in row of the same name.
// yaml.v3 decodes each map value from scratch, so `fast: {model: x}` would otherwise drop the
// default timeout and history limits.
func (c *InferenceConfig) fillModes(defaults map[string]ModeConfig) {
	for name, m := range c.Modes {
		d, ok := defaults[name]
		if !ok {
			continue
		}
		if m.Model == "" {
			m.Model = d.Model
		}
		if m.Description == "" {
			m.Description = d.Description
		}
		if m.Timeout == 0 {
			m.Timeout = d.Timeout
		}
		if m.HistoryNoFiles == 0 {
			m.HistoryNoFiles = d.HistoryNoFiles
		}
		if m.HistoryWithFiles == 0 {
			m.HistoryWithFiles = d.HistoryWithFiles
		}
		c.Modes[name] = m
	}
}

// applyEnv overrides connection settings and secrets from the environment.
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"GEMSERVE_DB_DRIVER":             &c.Database.Driver,
		"GEMSERVE_DB_DSN":                &c.Database.DSN,
		"GEMSERVE_VECTOR_ENCRYPTION_KEY": &c.Vector.EncryptionKey,
		"GEMSERVE_EMBED_PROVIDER":        &c.EmbedLLM.Provider,
		"GEMSERVE_EMBED_BASE_URL":        &c.EmbedLLM.BaseURL,
		"GEMSERVE_EMBED_KEY":             &c.EmbedLLM.Key,
		"GEMSERVE_LLM_PROVIDER":          &c.LLM.Provider,
		"GEMSERVE_LLM_BASE_URL":          &c.LLM.BaseURL,
		"GEMSERVE_LLM_KEY":               &c.LLM.Key,
		"GEMSERVE_LOG_LEVEL":             &c.Log.Level,
	}
	for key, field := range overrides {
		if v, ok := os.LookupEnv(key); ok {
			*field = v
		}
	}
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 {
		return fmt.Errorf("rag.chunk_overlap must not be negative, got %d", c.RAG.ChunkOverlap)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}
	if _, ok := c.LLM.Modes[c.LLM.DefaultMode]; !ok {
		return fmt.Errorf("llm.default_mode %q has no entry in llm.modes", c.LLM.DefaultMode)
	}
	for name, m := range c.LLM.Modes {
		if m.Model == "" {
			return fmt.Errorf("llm.modes.%s.model is required", name)
		}
		if m.Timeout <= 0 {
			return fmt.Errorf("llm.modes.%s.timeout must be positive, got %s", name, m.Timeout)
		}
		if m.HistoryNoFiles <= 0 || m.HistoryWithFiles <= 0 {
			return fmt.Errorf("llm.modes.%s: history limits must be positive", name)
		}
		if m.HistoryWithFiles > m.HistoryNoFiles {
			return fmt.Errorf("llm.modes.%s: history_with_files must not exceed history_no_files", name)
		}
	}
	if c.Files.CacheLimit <= 0 {
		return fmt.Errorf("files.cache_limit must be positive, got %d", c.Files.CacheLimit)
	}
	switch c.LLM.Provider {
	case "", "ollama", "openai":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	return nil
}

// Mode resolves a mode name, falling back to the default mode for unknown names.
func (c *InferenceConfig) Mode(name string) (string, ModeConfig) {
	if m, ok := c.Modes[name]; ok {
		return name, m
	}
	return c.DefaultMode, c.Modes[c.DefaultMode]
}

// PromptBudget is the soft token budget for an assembled prompt.
func (c *InferenceConfig) PromptBudget() int {
	return c.ContextTokens - c.ReservedResponseTokens
}
