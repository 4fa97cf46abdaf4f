package clog

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
)

type Level int

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
)

func HTTPStatusToLevel(status int) Level {
	switch {
	case status == 499:
		return LevelInfo
	case status >= 100 && status < 400:
		return LevelInfo
	case status >= 400 && status < 500:
		return LevelWarn
	default:
		return LevelError
	}
}

// ConnectCodeToLevel decides how loudly a failed RPC is logged. Caller
// mistakes are informational; server side faults are errors.
func ConnectCodeToLevel(code connect.Code) Level {
	switch code {
	case connect.CodeCanceled,
		connect.CodeInvalidArgument,
		connect.CodeDeadlineExceeded,
		connect.CodeNotFound,
		connect.CodeAlreadyExists,
		connect.CodePermissionDenied,
		connect.CodeFailedPrecondition,
		connect.CodeAborted,
		connect.CodeOutOfRange,
		connect.CodeUnauthenticated:
		return LevelInfo
	default:
		return LevelError
	}
}

// Log writes msg at the given level through the default logger.
func Log(ctx context.Context, level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		slog.DebugContext(ctx, msg, args...)
	case LevelInfo:
		slog.InfoContext(ctx, msg, args...)
	case LevelWarn:
		slog.WarnContext(ctx, msg, args...)
	default:
		slog.ErrorContext(ctx, msg, args...)
	}
}
