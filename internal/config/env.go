package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:"127.0.0.1"`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3170"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// APIKey guards the daemon API. Empty disables the check.
	APIKey string `envconfig:"API_KEY"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".triguild/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"triguild/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type AgentEnv struct {
	ClaudeCommand  string        `envconfig:"CLAUDE_COMMAND" default:"claude -p {prompt}"`
	CodexCommand   string        `envconfig:"CODEX_COMMAND" default:"codex exec -m gpt-5.2-codex -c model_reasoning_effort=\"xhigh\" -s workspace-write {prompt}"`
	GeminiCommand  string        `envconfig:"GEMINI_COMMAND" default:"gemini -m gemini-3-pro-preview --approval-mode yolo {prompt}"`
	Timeout        time.Duration `envconfig:"AGENT_TIMEOUT" default:"120s"`
	GeminiTimeout  time.Duration `envconfig:"GEMINI_TIMEOUT" default:"300s"`
	ClaudeRunner   string        `envconfig:"CLAUDE_RUNNER" default:"cli"`
	ClaudeMaxTurns int           `envconfig:"CLAUDE_MAX_TURNS" default:"8"`
	GeminiModel    string        `envconfig:"GEMINI_MODEL" default:"gemini-3-pro-preview"`
	WorkDir        string        `envconfig:"WORK_DIR"`
}

type CostEnv struct {
	// DailyBudgetUSD of zero means unlimited.
	DailyBudgetUSD float64 `envconfig:"DAILY_BUDGET_USD" default:"0"`
}

type DatabaseEnv struct {
	DBPath string `envconfig:"DB_PATH" default:".triguild/triguild.db"`
}

type NotifyEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string `envconfig:"VAPID_SUBSCRIBER" default:"mailto:triguild@localhost"`
	NotifyOnSuccess bool   `envconfig:"NOTIFY_ON_SUCCESS" default:"false"`
}

type CommandEnv struct {
	CatalogPath string `envconfig:"CATALOG_PATH" default:".triguild/commands.yaml"`
}

type OrchestratorEnv struct {
	TickInterval time.Duration `envconfig:"ORCHESTRATOR_TICK" default:"30s"`
	Enabled      bool          `envconfig:"ORCHESTRATOR_ENABLED" default:"true"`
}

type Env struct {
	BaseEnv
	StorageEnv
	AgentEnv
	CostEnv
	DatabaseEnv
	NotifyEnv
	CommandEnv
	OrchestratorEnv
}

const namespace = "TRIGUILD"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (e *BaseEnv) IsLocal() bool {
	return e.Env == "local"
}

// Addr is the daemon listen address and the default client target.
func (e *BaseEnv) Addr() string {
	return e.HTTPHost + ":" + e.HTTPPort
}

func (e *BaseEnv) BaseURL() string {
	return "http://" + e.Addr()
}

func (e *AgentEnv) TimeoutFor(agent string) time.Duration {
	if agent == "gemini" {
		return e.GeminiTimeout
	}
	return e.Timeout
}

func (e *NotifyEnv) PushEnabled() bool {
	return e.VAPIDPublicKey != "" && e.VAPIDPrivateKey != ""
}
