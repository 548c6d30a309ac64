// Package config loads proofloop settings from a config file and
// environment variables via viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/proofloop/proofloop/agent"
	"github.com/proofloop/proofloop/bench"
)

// Config stores all configuration of the evaluation harness. The values
// are read by viper from a config file or environment variables.
type Config struct {
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Verifier   VerifierConfig   `mapstructure:"verifier"`
	Prompt     PromptConfig     `mapstructure:"prompt"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// EvaluationConfig stores the loop and harness limits.
type EvaluationConfig struct {
	Model         string        `mapstructure:"model" validate:"required"`
	MaxIterations int           `mapstructure:"max_iterations" validate:"min=1"`
	MaxTokens     int           `mapstructure:"max_tokens" validate:"min=1"`
	SampleTimeout time.Duration `mapstructure:"sample_timeout" validate:"min=1s"`
	Parallelism   int           `mapstructure:"parallelism" validate:"min=1"`
}

// VerifierConfig stores the external verifier invocation settings.
type VerifierConfig struct {
	Binary  string        `mapstructure:"binary" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s"`
	TempDir string        `mapstructure:"temp_dir"`
}

// PromptConfig stores the model-facing prompt templates. Empty fields fall
// back to the built-in defaults at the point of use.
type PromptConfig struct {
	System    string `mapstructure:"system"`
	Task      string `mapstructure:"task"`
	StateNote string `mapstructure:"state_note"`
}

// LoggingConfig stores the zerolog setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from the given file, or from a proofloop.yaml
// found in the working directory when path is empty. PROOFLOOP_* environment
// variables override file values (PROOFLOOP_EVALUATION_MODEL and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("proofloop")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("PROOFLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when no explicit path was given: defaults
		// plus environment carry the full configuration.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("evaluation.model", "claude-sonnet-4-20250514")
	v.SetDefault("evaluation.max_iterations", 10)
	v.SetDefault("evaluation.max_tokens", 8192)
	v.SetDefault("evaluation.sample_timeout", "15m")
	v.SetDefault("evaluation.parallelism", 4)

	v.SetDefault("verifier.binary", "dafny")
	v.SetDefault("verifier.timeout", "2m")

	v.SetDefault("prompt.system", agent.DefaultSystemPrompt)
	v.SetDefault("prompt.task", bench.DefaultTaskPrompt)
	v.SetDefault("prompt.state_note", "State updated after hint insertion.")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}
