// Package config loads the runtime's configuration via viper: defaults,
// an optional YAML file, and environment variable overrides, in that
// precedence order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Broker holds the mesh transport's wiring.
type Broker struct {
	Transport string // "inmemory" or "amqp"
	AMQPURI   string
}

// Runtime holds the worker-pool and command-timeout knobs.
type Runtime struct {
	MaxThreads     int
	CommandTimeout time.Duration
}

// LLM holds API credentials for the agent role's drivers.
type LLM struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// Config is the full set of runtime-tunable settings.
type Config struct {
	Broker  Broker
	Runtime Runtime
	LLM     LLM
}

// Load builds a viper instance bound to configFile (optional), environment
// variables prefixed MESHRT_, and sensible defaults, then unmarshals it.
func Load(configFile string) (*Config, error) {
	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}
	return unmarshal(v)
}

// BindFlags wires CLI flags as the highest-precedence override source.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	v.BindPFlag("runtime.max_threads", flags.Lookup("max-threads"))
	v.BindPFlag("broker.transport", flags.Lookup("broker-transport"))
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()

	v.SetDefault("broker.transport", "inmemory")
	v.SetDefault("runtime.max_threads", 8)
	v.SetDefault("runtime.command_timeout", "30s")

	v.SetEnvPrefix("MESHRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("meshrt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/meshrt")
	}

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Broker: Broker{
			Transport: v.GetString("broker.transport"),
			AMQPURI:   v.GetString("broker.amqp_uri"),
		},
		Runtime: Runtime{
			MaxThreads:     v.GetInt("runtime.max_threads"),
			CommandTimeout: v.GetDuration("runtime.command_timeout"),
		},
		LLM: LLM{
			AnthropicAPIKey: v.GetString("llm.anthropic_api_key"),
			OpenAIAPIKey:    v.GetString("llm.openai_api_key"),
		},
	}
	if cfg.Runtime.MaxThreads <= 0 {
		return nil, fmt.Errorf("config: runtime.max_threads must be positive, got %d", cfg.Runtime.MaxThreads)
	}
	if cfg.Broker.Transport != "inmemory" && cfg.Broker.Transport != "amqp" {
		return nil, fmt.Errorf("config: broker.transport must be \"inmemory\" or \"amqp\", got %q", cfg.Broker.Transport)
	}
	return cfg, nil
}
