package clog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextHandler_ColumnsAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewAttributesHandler(NewTextHandler(&buf, WithColor(false))))

	ctx := ContextWithSlog(context.Background())
	AddAttributes(ctx, map[string]any{"agent": "codex", "task_id": "TASK-007"})
	AddError(ctx, errors.New("exit status 2"))
	logger.InfoContext(ctx, "agent failed", "exit_code", 2)

	out := buf.String()
	first, rest, _ := strings.Cut(out, "\n")
	assert.Contains(t, first, "INFO codex TASK-007 agent failed")
	assert.Contains(t, first, `"exit status 2"`)
	assert.Contains(t, rest, "    exit_code=2\n")
}

func TestTextHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, WithColor(false), WithLevel(slog.LevelWarn)))

	logger.Info("quiet")
	logger.Warn("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestContextAttributes_NoContextIsNoop(t *testing.T) {
	ctx := context.Background()
	AddAttribute(ctx, "k", "v")
	assert.Nil(t, GetAttributes(ctx))
	assert.Equal(t, "", GetAttribute[string](ctx, "k"))
}

func TestMergeMaps_Nested(t *testing.T) {
	ctx := ContextWithSlog(context.Background())
	AddAttributes(ctx, map[string]any{"agent": map[string]any{"kind": "claude"}})
	AddAttributes(ctx, map[string]any{"agent": map[string]any{"busy": true}})

	got := GetAttributes(ctx)["agent"].(map[string]any)
	assert.Equal(t, "claude", got["kind"])
	assert.Equal(t, true, got["busy"])
}
