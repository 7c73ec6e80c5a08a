package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gemserve/internal/db"
	"gemserve/internal/fileops"
)

var (
	successColor   = color.New(color.FgGreen)
	warnColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	promptColor    = color.New(color.FgCyan)
	dimColor       = color.New(color.Faint)
	headerColor    = color.New(color.Bold)
	userColor      = color.New(color.FgBlue, color.Bold)
	assistantColor = color.New(color.FgMagenta, color.Bold)
)

const replHelp = `Commands:
  /mode [name]     show or switch the model mode
  /new             start a new session
  /upload <path>   upload a document into this session
  /docs            list documents uploaded to this session
  /history         print this session's transcript
  /files           switch to file operations (open, delete, new)
  /recent          list recently used files
  /chat            switch back to chat
  /quit            leave`

func newChatCmd(get func() *app) *cobra.Command {
	var (
		sessionID int64
		mode      string
		raw       bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat. Ctrl+C cancels a running reply, or quits when idle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := newREPL(get(), cmd.OutOrStdout(), sessionID, mode)
			r.md = newMarkdownRenderer(raw)
			return r.run(cmd.Context(), cmd.InOrStdin(), false)
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "session to continue (0 starts a new one)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "model mode (fast, thinking)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print answers without markdown rendering")
	return cmd
}

func newFilesCmd(get func() *app) *cobra.Command {
	var sessionID int64
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Interactive file operations: open, delete and create files by partial name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := newREPL(get(), cmd.OutOrStdout(), sessionID, "")
			return r.run(cmd.Context(), cmd.InOrStdin(), true)
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "session whose file cache to use")
	return cmd
}

type repl struct {
	app      *app
	out      io.Writer
	session  int64
	mode     string
	fileMode bool
	md       *glamour.TermRenderer
}

func newREPL(a *app, out io.Writer, sessionID int64, mode string) *repl {
	name, _ := a.cfg.LLM.Mode(mode)
	return &repl{app: a, out: out, session: sessionID, mode: name}
}

func (r *repl) run(ctx context.Context, in io.Reader, fileMode bool) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	lines := readLines(in)
	headerColor.Fprintf(r.out, "GemServe (%s mode). Type /help for commands.\n", r.mode)
	if fileMode {
		r.enterFileMode()
	}

	for {
		r.prompt()
		select {
		case <-ctx.Done():
			return nil
		case <-sig:
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if r.handle(ctx, sig, strings.TrimSpace(line)) {
				return nil
			}
		}
	}
}

func (r *repl) prompt() {
	if !r.fileMode {
		userColor.Fprint(r.out, "You> ")
		return
	}
	state := r.app.files.State(r.session)
	if state == fileops.StateNone {
		promptColor.Fprint(r.out, "files> ")
		return
	}
	promptColor.Fprintf(r.out, "files[%s]> ", state)
}

// handle runs one line of input and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, sig <-chan os.Signal, line string) bool {
	cmd, arg := splitCommand(line)
	switch cmd {
	case "":
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/mode":
		r.switchMode(arg)
	case "/new":
		r.session = 0
		dimColor.Fprintln(r.out, "Started a new session")
	case "/upload":
		if arg == "" {
			errorColor.Fprintln(r.out, "Usage: /upload <path>")
			break
		}
		background(ctx, sig, r.out, func(ctx context.Context) {
			res, err := r.app.chat.Upload(ctx, r.session, strings.Trim(arg, `"'`))
			if err != nil {
				errorColor.Fprintf(r.out, "❌ %v\n", err)
				return
			}
			r.session = res.File.SessionID
			r.printUpload(res.File, res.Chunks, res.Processed, res.Err)
		})
	case "/docs":
		r.listDocs(ctx)
	case "/history":
		r.history(ctx)
	case "/files":
		r.enterFileMode()
	case "/recent":
		r.listRecent()
	case "/chat":
		r.fileMode = false
		dimColor.Fprintln(r.out, "Back to chat")
	default:
		if strings.HasPrefix(cmd, "/") {
			errorColor.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", cmd)
			break
		}
		if r.fileMode {
			background(ctx, sig, r.out, func(ctx context.Context) {
				r.printReply(r.app.files.Handle(ctx, r.session, line))
			})
			break
		}
		background(ctx, sig, r.out, func(ctx context.Context) {
			r.turn(ctx, line)
		})
	}
	return false
}

func (r *repl) turn(ctx context.Context, query string) {
	dimColor.Fprintln(r.out, "GemServe is thinking... (Ctrl+C to cancel)")
	resp, err := r.app.chat.Send(ctx, r.session, query, r.mode)
	if err != nil {
		errorColor.Fprintf(r.out, "❌ %v\n", err)
		return
	}
	r.session = resp.SessionID
	if resp.Failed {
		errorColor.Fprintln(r.out, resp.Content)
		return
	}
	assistantColor.Fprintln(r.out, "GemServe>")
	fmt.Fprintln(r.out, renderMarkdown(r.md, resp.Content))
}

func (r *repl) switchMode(name string) {
	modes := r.app.llm.Models()
	if name == "" {
		names := make([]string, 0, len(modes))
		for m := range modes {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			marker := "  "
			if m == r.mode {
				marker = "* "
			}
			_, cfg := r.app.cfg.LLM.Mode(m)
			fmt.Fprintf(r.out, "%s%-10s %s (%s)\n", marker, m, cfg.Description, cfg.Model)
		}
		return
	}
	if _, ok := modes[name]; !ok {
		errorColor.Fprintf(r.out, "❌ Unknown mode %q. Type /mode to list modes.\n", name)
		return
	}
	r.mode = name
	successColor.Fprintf(r.out, "✅ Switched to %s mode (%s)\n", name, modes[name])
}

func (r *repl) enterFileMode() {
	r.fileMode = true
	r.printReply(r.app.files.Intro())
}

func (r *repl) listDocs(ctx context.Context) {
	if r.session == 0 {
		dimColor.Fprintln(r.out, "No documents in this session")
		return
	}
	files, err := r.app.chat.Files(ctx, r.session)
	if err != nil {
		errorColor.Fprintf(r.out, "❌ %v\n", err)
		return
	}
	if len(files) == 0 {
		dimColor.Fprintln(r.out, "No documents in this session")
		return
	}
	for _, f := range files {
		state := "processed"
		if !f.IsProcessed {
			state = fmt.Sprintf("not processed, retry with: gemserve reprocess %d", f.ID)
		}
		fmt.Fprintf(r.out, "📎 %s (%s)\n", f.Filename, state)
	}
}

func (r *repl) history(ctx context.Context) {
	if r.session == 0 {
		dimColor.Fprintln(r.out, "No messages yet")
		return
	}
	_, messages, err := r.app.chat.Transcript(ctx, r.session)
	if err != nil {
		errorColor.Fprintf(r.out, "❌ %v\n", err)
		return
	}
	for _, m := range messages {
		if m.Role == db.RoleAssistant {
			assistantColor.Fprint(r.out, "GemServe> ")
		} else {
			userColor.Fprint(r.out, "You> ")
		}
		fmt.Fprintln(r.out, m.Content)
	}
}

func (r *repl) listRecent() {
	recent := r.app.files.Recent(r.session)
	if len(recent) == 0 {
		dimColor.Fprintln(r.out, "No recently used files")
		return
	}
	for i, p := range recent {
		fmt.Fprintf(r.out, "  %d. %s\n", i+1, p)
	}
}

func (r *repl) printUpload(f *db.UploadedFile, chunks int, processed bool, err error) {
	if !processed {
		errorColor.Fprintf(r.out, "❌ %s was uploaded but could not be processed: %v\n", f.Filename, err)
		return
	}
	successColor.Fprintf(r.out, "✅ %s processed into %d chunk(s)\n", f.Filename, chunks)
}

func (r *repl) printReply(reply fileops.Reply) {
	replyColor(reply.Kind).Fprintln(r.out, reply.String())
}

func replyColor(k fileops.Kind) *color.Color {
	switch k {
	case fileops.Success:
		return successColor
	case fileops.Warning:
		return warnColor
	case fileops.Error:
		return errorColor
	case fileops.Prompt:
		return promptColor
	}
	return color.New(color.Reset)
}

// background runs fn on its own goroutine. The first Ctrl+C cancels it; the REPL waits for fn
// to return either way.
func background(ctx context.Context, sig <-chan os.Signal, out io.Writer, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()

	for {
		select {
		case <-done:
			return
		case <-sig:
			warnColor.Fprintln(out, "\nCancelling...")
			cancel()
			sig = nil
		}
	}
}

// readLines feeds stdin lines into a channel that is closed on EOF.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// splitCommand separates a leading /command from its argument. Plain text has no command.
func splitCommand(line string) (string, string) {
	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return "", ""
		}
		return line, ""
	}
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}
