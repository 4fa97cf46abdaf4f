package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kazz187/triguild/internal/config"
	"github.com/kazz187/triguild/internal/daemon"
	"github.com/kazz187/triguild/internal/geminisession"
	"github.com/kazz187/triguild/internal/sessiontrim"
)

var (
	geminiCmd = app.Command("gemini", "Conversational Gemini session")

	geminiSendCmd       = geminiCmd.Command("send", "Send a prompt in the current session")
	geminiSendPrompt    = geminiSendCmd.Arg("prompt", "Prompt").Required().Strings()
	geminiSendContext   = geminiSendCmd.Flag("context", "Prepend the recent conversation").Bool()
	geminiSendNoApprove = geminiSendCmd.Flag("no-yolo", "Do not auto-approve tool calls").Bool()
	geminiSendSession   = geminiSendCmd.Flag("session", "Resume this Gemini session ID").String()

	geminiHistoryCmd = geminiCmd.Command("history", "Show the saved conversation")
	geminiClearCmd   = geminiCmd.Command("clear", "Forget the conversation")

	trimCmd  = app.Command("trim", "Shrink an oversized Claude session file")
	trimID   = trimCmd.Arg("session", "Session ID").Required().String()
	trimFile = trimCmd.Flag("file", "Session file; searched under --root when omitted").String()
	trimRoot = trimCmd.Flag("root", "Claude projects directory").String()
)

func init() {
	localHandlers[geminiSendCmd.FullCommand()] = runGeminiSend
	localHandlers[geminiHistoryCmd.FullCommand()] = runGeminiHistory
	localHandlers[geminiClearCmd.FullCommand()] = func(ctx context.Context, env *config.Env) error {
		s, err := openGemini(ctx, env)
		if err != nil {
			return err
		}
		if err := s.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("Gemini history cleared")
		return nil
	}
	localHandlers[trimCmd.FullCommand()] = runTrim
}

func openGemini(ctx context.Context, env *config.Env, opts ...geminisession.Option) (*geminisession.Session, error) {
	st, err := daemon.NewStorage(ctx, &env.StorageEnv)
	if err != nil {
		return nil, err
	}
	opts = append([]geminisession.Option{geminisession.WithTimeout(env.GeminiTimeout)}, opts...)
	return geminisession.New(ctx, st, env.GeminiModel, opts...), nil
}

func runGeminiSend(ctx context.Context, env *config.Env) error {
	opts := []geminisession.Option{geminisession.WithAutoApprove(!*geminiSendNoApprove)}
	if *geminiSendSession != "" {
		opts = append(opts, geminisession.WithSessionID(*geminiSendSession))
	}
	s, err := openGemini(ctx, env, opts...)
	if err != nil {
		return err
	}
	res, err := s.Send(ctx, strings.Join(*geminiSendPrompt, " "), *geminiSendContext)
	if err != nil {
		return err
	}
	if ok, err := printJSON(res); ok {
		return err
	}
	fmt.Println(res.Content)
	return nil
}

func runGeminiHistory(ctx context.Context, env *config.Env) error {
	s, err := openGemini(ctx, env)
	if err != nil {
		return err
	}
	history := s.History()
	if ok, err := printJSON(history); ok {
		return err
	}
	for _, m := range history {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format(time.DateTime), m.Role, oneLine(m.Content, 100))
	}
	return nil
}

func runTrim(_ context.Context, _ *config.Env) error {
	root := *trimRoot
	if root == "" && *trimFile == "" {
		var err error
		if root, err = sessiontrim.DefaultRoot(); err != nil {
			return err
		}
	}
	t := sessiontrim.New(root)

	var (
		res *sessiontrim.Result
		err error
	)
	if *trimFile != "" {
		res, err = t.TrimFile(*trimFile, *trimID)
	} else {
		res, err = t.Trim(*trimID)
	}
	if err != nil {
		return err
	}
	if ok, err := printJSON(res); ok {
		return err
	}
	fmt.Printf("Source:   %s\n", res.Source)
	fmt.Printf("Output:   %s\n", res.Output)
	fmt.Printf("Lines:    %d (%d invalid)\n", res.Lines, res.InvalidLines)
	fmt.Printf("Trimmed:  %d item(s)\n", res.Trimmed)
	fmt.Printf("Size:     %s -> %s (saved %s, %.1f%%)\n",
		sessiontrim.FormatSize(res.OriginalSize), sessiontrim.FormatSize(res.NewSize),
		sessiontrim.FormatSize(res.Saved()), res.SavedPercent())
	if res.IndexUpdated {
		fmt.Printf("Index updated; resume with: claude --resume %s\n", res.NewID)
	}
	return nil
}
