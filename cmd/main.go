package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gemserve/internal/chat"
	"gemserve/internal/chromemdb"
	"gemserve/internal/config"
	"gemserve/internal/db"
	"gemserve/internal/embedding"
	"gemserve/internal/fileops"
	"gemserve/internal/helper"
	"gemserve/internal/llmservice"
	"gemserve/internal/logger"
	"gemserve/internal/profile"
	"gemserve/internal/rag"
)

const configFilePath = "./configs/config.yaml"

// app holds every long-lived component, built once per command.
type app struct {
	cfg     *config.Config
	store   *db.Store
	index   *rag.Store
	llm     *llmservice.Client
	profile *profile.Store
	chat    *chat.Service
	files   *fileops.Resolver
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := db.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("error creating embedder: %w", err)
	}

	vdb, err := chromemdb.NewVectorDBManager(cfg.Vector.Path, cfg.Vector.InMemory, cfg.Vector.Compress, cfg.Vector.EncryptionKey, rag.EmbeddingFunc(embedder))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("error opening vector store: %w", err)
	}
	index := rag.NewStore(vdb, embedder, cfg.EmbedLLM.BatchSize)

	llm, err := llmservice.NewClient(cfg.LLM)
	if err != nil {
		store.Close()
		return nil, err
	}

	profiles := profile.NewStore(cfg.Profile)
	return &app{
		cfg:     cfg,
		store:   store,
		index:   index,
		llm:     llm,
		profile: profiles,
		chat:    chat.NewService(cfg, store, index, llm, profiles),
		files:   fileops.NewResolver(cfg.Files, fileops.SystemOpener{}),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing database")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		a          *app
	)

	root := &cobra.Command{
		Use:           "gemserve",
		Short:         "Offline desktop assistant: chat with local models, ask about your documents, manage files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			if err := logger.Setup(cfg.Log); err != nil {
				return fmt.Errorf("error setting up logger: %w", err)
			}
			log.Debug().Str("config", configPath).Str("llm_provider", cfg.LLM.Provider).Str("db_driver", cfg.Database.Driver).Msg("Loaded config")

			a, err = newApp(cmd.Context(), cfg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", configFilePath, "path to the config file")

	get := func() *app { return a }
	root.AddCommand(
		newChatCmd(get),
		newAskCmd(get),
		newUploadCmd(get),
		newReprocessCmd(get),
		newSessionsCmd(get),
		newFilesCmd(get),
		newExportCmd(get),
		newImportCmd(get),
		newProfileCmd(get),
		newDoctorCmd(get),
	)
	return root
}

// interruptible cancels the command's context on Ctrl+C.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func newAskCmd(get func() *app) *cobra.Command {
	var (
		sessionID int64
		mode      string
		raw       bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question, optionally inside an existing session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd)
			defer stop()

			a := get()
			resp, err := a.chat.Send(ctx, sessionID, strings.Join(args, " "), mode)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp.Failed {
				errorColor.Fprintln(out, resp.Content)
				return nil
			}
			fmt.Fprintln(out, renderMarkdown(newMarkdownRenderer(raw), resp.Content))
			dimColor.Fprintf(out, "\n[session %d, %s mode, ~%d prompt tokens]\n", resp.SessionID, resp.Mode, resp.PromptTokens)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "session to continue (0 starts a new one)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "model mode (fast, thinking)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the answer without markdown rendering")
	return cmd
}

func newUploadCmd(get func() *app) *cobra.Command {
	var sessionID int64
	cmd := &cobra.Command{
		Use:   "upload <file|pattern>...",
		Short: "Upload documents into a session and index them for retrieval",
		Long:  "Upload documents into a session and index them for retrieval. Patterns such as 'docs/**/*.pdf' are expanded.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd)
			defer stop()

			paths, err := expandPaths(args)
			if err != nil {
				return err
			}
			a := get()
			for _, path := range paths {
				res, err := a.chat.Upload(ctx, sessionID, path)
				if err != nil {
					return err
				}
				sessionID = res.File.SessionID
				printUpload(cmd, res)
			}
			return nil
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "session to attach to (0 starts a new one)")
	return cmd
}

func newReprocessCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <file-id>",
		Short: "Retry indexing an uploaded file that failed to process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd)
			defer stop()

			fileID, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := get().chat.Reprocess(ctx, fileID)
			if err != nil {
				return err
			}
			printUpload(cmd, res)
			return nil
		},
	}
}

func printUpload(cmd *cobra.Command, res *chat.UploadResult) {
	out := cmd.OutOrStdout()
	if !res.Processed {
		errorColor.Fprintf(out, "❌ %s uploaded (file %d) but could not be processed: %v\n", res.File.Filename, res.File.ID, res.Err)
		return
	}
	successColor.Fprintf(out, "✅ %s processed into %d chunk(s) (session %d, file %d)\n",
		res.File.Filename, res.Chunks, res.File.SessionID, res.File.ID)
}

func newSessionsCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List chat sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := get().chat.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions yet")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%5d  %s  %s\n", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Title)
			}
			return nil
		},
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's transcript and uploaded files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := get()
			session, messages, err := a.chat.Transcript(cmd.Context(), id)
			if err != nil {
				return err
			}
			files, err := a.chat.Files(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				helper.PrettyPrint(map[string]any{"session": session, "messages": messages, "files": files})
				return nil
			}

			out := cmd.OutOrStdout()
			headerColor.Fprintf(out, "%s\n\n", session.Title)
			for _, f := range files {
				state := "processed"
				if !f.IsProcessed {
					state = "not processed"
				}
				dimColor.Fprintf(out, "📎 %s (file %d, %s)\n", f.Filename, f.ID, state)
			}
			for _, m := range messages {
				label := userColor.Sprint("You")
				if m.Role == db.RoleAssistant {
					label = assistantColor.Sprint("GemServe")
				}
				fmt.Fprintf(out, "%s: %s\n\n", label, m.Content)
			}
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	del := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its messages, uploads, index and file cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a := get()
			if err := a.chat.DeleteSession(cmd.Context(), id); err != nil {
				return err
			}
			a.files.Forget(id)
			successColor.Fprintf(cmd.OutOrStdout(), "✅ Deleted session %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(show, del)
	return cmd
}

func newExportCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file> [session-id...]",
		Short: "Back up retrieval collections to a single file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			if err := get().index.Export(cmd.Context(), args[0], ids...); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✅ Exported to %s\n", args[0])
			return nil
		},
	}
}

func newImportCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file> [session-id...]",
		Short: "Restore retrieval collections from a backup",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			if err := get().index.Import(cmd.Context(), args[0], ids...); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "✅ Imported from %s\n", args[0])
			return nil
		},
	}
}

func newProfileCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the user profile used to personalise answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := get().profile.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:  %s\nNotes: %s\n", p.Name, p.Notes)
			return nil
		},
	}

	var name, notes string
	set := &cobra.Command{
		Use:   "set",
		Short: "Update the profile name and/or notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := get().profile
			p, err := store.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("name") {
				p.Name = strings.TrimSpace(name)
			}
			if cmd.Flags().Changed("notes") {
				p.Notes = notes
			}
			if err := store.Save(p); err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "✅ Profile saved")
			return nil
		},
	}
	set.Flags().StringVar(&name, "name", "", "your name")
	set.Flags().StringVar(&notes, "notes", "", "personal notes the assistant should know about")
	cmd.AddCommand(set)
	return cmd
}

func newDoctorCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the model server is reachable and the configured models are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd)
			defer stop()

			a := get()
			out := cmd.OutOrStdout()
			available, err := a.llm.Ping(ctx)
			if err != nil {
				errorColor.Fprintf(out, "❌ %s server at %s is not reachable: %v\n", a.cfg.LLM.Provider, a.cfg.LLM.BaseURL, err)
				return errors.New("model server unavailable")
			}
			successColor.Fprintf(out, "✅ %s server at %s is reachable\n", a.cfg.LLM.Provider, a.cfg.LLM.BaseURL)

			installed := make(map[string]struct{}, len(available))
			for _, m := range available {
				installed[m] = struct{}{}
			}
			models := a.llm.Models()
			modes := make([]string, 0, len(models))
			for mode := range models {
				modes = append(modes, mode)
			}
			sort.Strings(modes)

			missing := 0
			for _, mode := range modes {
				model := models[mode]
				if _, ok := installed[model]; ok {
					successColor.Fprintf(out, "✅ %s mode: %s\n", mode, model)
					continue
				}
				missing++
				errorColor.Fprintf(out, "❌ %s mode: %s is not installed\n", mode, model)
			}
			if missing > 0 {
				return fmt.Errorf("%d configured model(s) missing", missing)
			}
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
