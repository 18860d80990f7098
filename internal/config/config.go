package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/shellpilot.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/shellpilot.log"`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// AI planning backend (OpenAI-compatible streaming chat endpoint)
	AIBackendURL string `envconfig:"AI_BACKEND_URL" default:"http://127.0.0.1:8080/v1/chat/completions"`
	AIBackendKey string `envconfig:"AI_BACKEND_KEY" default:""`
	AIModel      string `envconfig:"AI_MODEL" default:"gpt-4o-mini"`

	// RulesPath points at an optional rules.yaml with global AI rules and
	// a global forbidden-command list.
	RulesPath string `envconfig:"RULES_PATH" default:""`

	// CommandLogRetentionDays controls how long executed-command history
	// is kept before the cron pruner deletes it. Zero disables pruning.
	CommandLogRetentionDays int `envconfig:"COMMAND_LOG_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLPILOT", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
