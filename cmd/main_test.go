package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gemserve/internal/fileops"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		line, cmd, arg string
	}{
		{"", "", ""},
		{"hello there", "hello there", ""},
		{"/quit", "/quit", ""},
		{"/MODE thinking", "/mode", "thinking"},
		{"/upload   C:/docs/report one.pdf ", "/upload", "C:/docs/report one.pdf"},
	}
	for _, tt := range tests {
		cmd, arg := splitCommand(tt.line)
		assert.Equal(t, tt.cmd, cmd, tt.line)
		assert.Equal(t, tt.arg, arg, tt.line)
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "42"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 42}, ids)

	_, err = parseIDs([]string{"1", "x"})
	assert.Error(t, err)

	_, err = parseID("0")
	assert.Error(t, err)
}

func TestReplyColor(t *testing.T) {
	assert.Same(t, errorColor, replyColor(fileops.Error))
	assert.Same(t, successColor, replyColor(fileops.Success))
	assert.Same(t, warnColor, replyColor(fileops.Warning))
	assert.Same(t, promptColor, replyColor(fileops.Prompt))
}

func TestBackgroundCancelsOnInterrupt(t *testing.T) {
	defer goleak.VerifyNone(t)

	sig := make(chan os.Signal, 1)
	var out bytes.Buffer
	started := make(chan struct{})
	var cancelled bool

	go func() {
		<-started
		sig <- os.Interrupt
	}()
	background(context.Background(), sig, &out, func(ctx context.Context) {
		close(started)
		select {
		case <-ctx.Done():
			cancelled = true
		case <-time.After(5 * time.Second):
		}
	})

	assert.True(t, cancelled)
	assert.Contains(t, out.String(), "Cancelling")
}

func TestBackgroundRunsToCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)

	var out bytes.Buffer
	ran := false
	background(context.Background(), make(chan os.Signal), &out, func(ctx context.Context) {
		ran = ctx.Err() == nil
	})
	assert.True(t, ran)
	assert.Empty(t, out.String())
}

func TestReadLinesClosesOnEOF(t *testing.T) {
	defer goleak.VerifyNone(t)

	var got []string
	for line := range readLines(strings.NewReader("open notes\n/quit\n")) {
		got = append(got, line)
	}
	assert.Equal(t, []string{"open notes", "/quit"}, got)
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "docs/b.pdf", "docs/deep/c.pdf", "docs/d.txt"} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	paths, err := expandPaths([]string{filepath.Join(dir, "**", "*.pdf"), "plain.txt"})
	require.NoError(t, err)
	assert.Subset(t, paths, []string{
		filepath.Join(dir, "docs", "b.pdf"),
		filepath.Join(dir, "docs", "deep", "c.pdf"),
		"plain.txt",
	})
	assert.NotContains(t, paths, filepath.Join(dir, "docs", "d.txt"))

	_, err = expandPaths([]string{filepath.Join(dir, "*.xlsx")})
	assert.Error(t, err)
}

func TestRenderMarkdownWithoutRenderer(t *testing.T) {
	assert.Equal(t, "**bold**", renderMarkdown(nil, "**bold**"))
	assert.Nil(t, newMarkdownRenderer(true))
}
