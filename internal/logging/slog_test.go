package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newBufLogger() (*SlogLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestLevelsWriteJSON(t *testing.T) {
	log, buf := newBufLogger()
	ctx := context.Background()

	log.Debug(ctx, "d")
	log.Info(ctx, "i", "k", "v")
	log.Warn(ctx, "w")
	log.Error(ctx, "e")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[1], `"k":"v"`)
	require.Contains(t, lines[3], `"level":"ERROR"`)
}

func TestWithAddsFields(t *testing.T) {
	log, buf := newBufLogger()

	child := log.With("origin", "abc")
	child.Info(context.Background(), "hello")

	require.Contains(t, buf.String(), `"origin":"abc"`)
}
