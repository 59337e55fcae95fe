package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the analysis service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Batch      BatchConfig      `mapstructure:"batch"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string   `mapstructure:"name"`
	APIName         string   `mapstructure:"api_name"`
	MaxTokens       int      `mapstructure:"max_tokens"`
	Temperature     float64  `mapstructure:"temperature"`
	CostPer1K       float64  `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64  `mapstructure:"cost_per_1k_output"`
	Capabilities    []string `mapstructure:"capabilities"` // classification, decomposition, agent
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Classification string `mapstructure:"classification"` // complexity verdicts
	Decomposition  string `mapstructure:"decomposition"`  // sub-problem generation
	Agent          string `mapstructure:"agent"`          // reasoning loop turns
	Fallback       string `mapstructure:"fallback"`       // fallback model
}

// AgentConfig controls the reasoning loop behaviour.
type AgentConfig struct {
	Mode               string        `mapstructure:"mode"` // react or direct
	MaxIterations      int           `mapstructure:"max_iterations"`
	FinalAnswerMarker  string        `mapstructure:"final_answer_marker"`
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
	ProcessTimeout     time.Duration `mapstructure:"process_timeout"`
	ClassifierTemp     float64       `mapstructure:"classifier_temperature"`
	DecomposerTemp     float64       `mapstructure:"decomposer_temperature"`
	AgentTemp          float64       `mapstructure:"agent_temperature"`
	TranscriptInResult bool          `mapstructure:"transcript_in_result"`
}

// Normalize applies defaults for unset agent values.
func (a AgentConfig) Normalize() AgentConfig {
	if strings.TrimSpace(a.Mode) == "" {
		a.Mode = "react"
	}
	if a.MaxIterations <= 0 {
		a.MaxIterations = 10
	}
	if strings.TrimSpace(a.FinalAnswerMarker) == "" {
		a.FinalAnswerMarker = "Final Answer:"
	}
	if a.MaxConcurrent <= 0 {
		a.MaxConcurrent = 4
	}
	if a.ProcessTimeout <= 0 {
		a.ProcessTimeout = 5 * time.Minute
	}
	if a.ClassifierTemp <= 0 {
		a.ClassifierTemp = 0.3
	}
	if a.DecomposerTemp <= 0 {
		a.DecomposerTemp = 0.5
	}
	if a.AgentTemp <= 0 {
		a.AgentTemp = 0.3
	}
	return a
}

// Validate checks the agent configuration.
func (a AgentConfig) Validate() error {
	switch a.Mode {
	case "react", "direct":
	default:
		return fmt.Errorf("agent.mode must be react or direct, got %q", a.Mode)
	}
	if a.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be > 0")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// CapabilityConfig controls the ToolCard registry behaviour.
type CapabilityConfig struct {
	SigningSecret string   `mapstructure:"signing_secret"`
	RequiredTools []string `mapstructure:"required_tools"`
}

// StorageConfig contains result persistence settings
type StorageConfig struct {
	File FileConfig `mapstructure:"file"`
}

// FileConfig contains flat-file sink settings
type FileConfig struct {
	ResultsDir string `mapstructure:"results_dir"`
	LogDir     string `mapstructure:"log_dir"`
}

// BatchConfig controls the CSV evaluation harness.
type BatchConfig struct {
	QueriesPerMinute float64 `mapstructure:"queries_per_minute"`
	ReportDir        string  `mapstructure:"report_dir"`
}

// Normalize applies defaults for unset batch values.
func (b BatchConfig) Normalize() BatchConfig {
	if b.QueriesPerMinute <= 0 {
		b.QueriesPerMinute = 30
	}
	if strings.TrimSpace(b.ReportDir) == "" {
		b.ReportDir = "batch_reports"
	}
	return b
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.max_processing_time", "5m")
	viper.SetDefault("general.default_timeout", "2m")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("agent.mode", "react")
	viper.SetDefault("agent.max_iterations", 10)
	viper.SetDefault("agent.final_answer_marker", "Final Answer:")
	viper.SetDefault("capability.required_tools", []string{"complexity_check", "problem_decompose"})
	viper.SetDefault("storage.file.results_dir", "results")
	viper.SetDefault("batch.queries_per_minute", 30)

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("QUERYCRAFT")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (QUERYCRAFT_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Agent = config.Agent.Normalize()
	config.Batch = config.Batch.Normalize()

	if err := config.Agent.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
