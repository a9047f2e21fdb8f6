// Package settings loads pvestack's tool settings.
//
// Settings come from, highest precedence first:
//
//  1. Command-line flags bound with Load
//  2. Environment variables (PVESTACK_*, e.g. PVESTACK_HISTORY_PATH)
//  3. The settings file (/etc/pvestack/pvestack.yaml by default)
//  4. Built-in defaults
//
// Settings describe how the tool runs. What it orchestrates lives in the
// plan document, see package plan.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ftschopp/pve-scripts/pkg/telemetry"
)

const (
	// EnvPrefix is the prefix of environment overrides.
	EnvPrefix = "PVESTACK"

	// DefaultPath is the settings file read when none is given.
	DefaultPath = "/etc/pvestack/pvestack.yaml"

	// DefaultPlanPath is the plan document used when none is configured.
	DefaultPlanPath = "/etc/pvestack/plan.yaml"

	// DefaultHistoryPath is the run history database.
	DefaultHistoryPath = "/var/lib/pvestack/history.db"
)

// Settings is the complete tool configuration.
type Settings struct {
	// Plan is the path of the plan document.
	Plan string `mapstructure:"plan" validate:"required"`

	// Output is the result format: table, json or yaml.
	Output string `mapstructure:"output" validate:"oneof=table json yaml yml"`

	// Host runs every command on a remote node over SSH when set, as
	// "[user@]host[:port]".
	Host string `mapstructure:"host"`

	// SkipRootCheck disables the local root precondition.
	SkipRootCheck bool `mapstructure:"skip_root_check"`

	SSH      SSHSettings     `mapstructure:"ssh"`
	Policies PolicySettings  `mapstructure:"policies"`
	History  HistorySettings `mapstructure:"history"`
	Logging  LoggingSettings `mapstructure:"logging"`
	Metrics  MetricsSettings `mapstructure:"metrics"`
	Tracing  TracingSettings `mapstructure:"tracing"`
	Engine   EngineSettings  `mapstructure:"engine"`
}

// SSHSettings configures the remote runner.
type SSHSettings struct {
	// Auth is key, agent or password.
	Auth string `mapstructure:"auth" validate:"oneof=key agent password"`

	KeyPath        string        `mapstructure:"key_path"`
	Password       string        `mapstructure:"password"`
	KnownHosts     string        `mapstructure:"known_hosts"`
	InsecureHost   bool          `mapstructure:"insecure_host_key"`
	Sudo           bool          `mapstructure:"sudo"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
}

// PolicySettings configures plan policy evaluation.
type PolicySettings struct {
	// Enabled runs policies during validate and before start.
	Enabled bool `mapstructure:"enabled"`

	// Dir holds additional .rego policies.
	Dir string `mapstructure:"dir"`

	// Enforce refuses to start when an error-severity policy is violated.
	Enforce bool `mapstructure:"enforce"`

	// Disabled lists policy names to skip.
	Disabled []string `mapstructure:"disabled"`
}

// HistorySettings configures the run history database.
type HistorySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`

	// Retention prunes older runs after each recorded run. Zero keeps
	// everything.
	Retention time.Duration `mapstructure:"retention" validate:"gte=0"`
}

// LoggingSettings configures the logger.
type LoggingSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	Output string `mapstructure:"output" validate:"required"`
	Caller bool   `mapstructure:"caller"`
}

// MetricsSettings configures metrics export.
type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled"`

	// TextfilePath is written after every run for node_exporter.
	TextfilePath string `mapstructure:"textfile"`
}

// TracingSettings configures the trace exporter.
type TracingSettings struct {
	Exporter     string            `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string            `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64           `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool              `mapstructure:"insecure"`
	Headers      map[string]string `mapstructure:"headers"`
}

// EngineSettings tunes the orchestration engine.
type EngineSettings struct {
	// PollInterval is how often the VM is polled while waiting for it to
	// report running.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// ProbeTimeout bounds a single health probe attempt.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
}

// FlagKeys maps settings keys to the command-line flags that override them.
var FlagKeys = map[string]string{
	"plan":             "plan",
	"output":           "output",
	"host":             "host",
	"skip_root_check":  "skip-root-check",
	"ssh.key_path":     "ssh-key",
	"ssh.sudo":         "ssh-sudo",
	"policies.dir":     "policy-dir",
	"policies.enforce": "enforce-policies",
	"history.enabled":  "record",
	"history.path":     "db",
	"logging.level":    "log-level",
	"logging.format":   "log-format",
	"metrics.textfile": "metrics-file",
	"tracing.exporter": "trace-exporter",
	"tracing.endpoint": "trace-endpoint",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("plan", DefaultPlanPath)
	v.SetDefault("output", "table")
	v.SetDefault("host", "")
	v.SetDefault("skip_root_check", false)

	v.SetDefault("ssh.auth", "key")
	v.SetDefault("ssh.key_path", "")
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("ssh.insecure_host_key", false)
	v.SetDefault("ssh.sudo", false)
	v.SetDefault("ssh.connect_timeout", 30*time.Second)

	v.SetDefault("policies.enabled", true)
	v.SetDefault("policies.dir", "")
	v.SetDefault("policies.enforce", false)
	v.SetDefault("policies.disabled", []string{})

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath)
	v.SetDefault("history.retention", 90*24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.headers", map[string]string{})

	v.SetDefault("engine.poll_interval", 5*time.Second)
	v.SetDefault("engine.probe_timeout", 5*time.Second)
}

// Load reads settings from path, the environment and flags. An empty path
// reads DefaultPath if it exists; an explicit path must exist. flags may be
// nil; only flags the user actually set override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			if explicit {
				return nil, fmt.Errorf("settings file not found: %s", path)
			}
		default:
			return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
		}
	}

	if flags != nil {
		for key, name := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Remote reports whether commands run over SSH.
func (s *Settings) Remote() bool {
	return s.Host != ""
}

// Telemetry converts the settings into a telemetry configuration.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version

	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Logging.Output = s.Logging.Output
	cfg.Logging.EnableCaller = s.Logging.Caller

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.TextfilePath = s.Metrics.TextfilePath

	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Tracing.Insecure = s.Tracing.Insecure
	for k, val := range s.Tracing.Headers {
		cfg.Tracing.Headers[k] = val
	}

	return cfg
}
