// Package rpcconfig loads the process-wide configuration for the demo
// server and CLI client. It is a flat, read-once bag: nothing in pkg/rpcrt
// imports this package, so the core library never gains an opinion about
// where its settings come from.
//
// Layering, highest precedence first: CLI flags (bound by the caller via
// BindPFlags), environment variables (RPCRT_*), a YAML configuration file,
// compiled-in defaults.
package rpcconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/openrpcrt/rpcrt/internal/bytesize"
)

// Config is the top-level configuration bag.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Client   ClientConfig   `mapstructure:"client" yaml:"client"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls rpclog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=TRACE DEBUG INFO NOTICE WARNING ERROR CRITICAL FATAL"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ClientConfig mirrors the call/reconnect retry knobs an RpcClient reads
// at construction time.
type ClientConfig struct {
	// CallMaxRetries bounds how many times a single remote procedure call
	// is retried before giving up.
	CallMaxRetries int `mapstructure:"call_max_retries" yaml:"call_max_retries" validate:"gte=0"`

	// CallRetrySleep is the base back-off sleep between call retries.
	CallRetrySleep time.Duration `mapstructure:"call_retry_sleep" yaml:"call_retry_sleep" validate:"gte=0"`

	// CallRetryTimeSlot is the jitter slot width added to the base sleep.
	CallRetryTimeSlot time.Duration `mapstructure:"call_retry_time_slot" yaml:"call_retry_time_slot" validate:"gte=0"`

	// ConnectMaxRetries bounds reconnection attempts after a binding is
	// declared lost.
	ConnectMaxRetries int `mapstructure:"connect_max_retries" yaml:"connect_max_retries" validate:"gte=0"`

	// ConnectRetrySleep is the sleep between reconnection attempts.
	ConnectRetrySleep time.Duration `mapstructure:"connect_retry_sleep" yaml:"connect_retry_sleep" validate:"gte=0"`
}

// ServerConfig configures the demo listener.
type ServerConfig struct {
	ListenAddress    string          `mapstructure:"listen_address" yaml:"listen_address" validate:"required"`
	ProtocolSequence string          `mapstructure:"protocol_sequence" yaml:"protocol_sequence" validate:"required,oneof=tcp local"`
	EndpointMapPath  string          `mapstructure:"endpoint_map_path" yaml:"endpoint_map_path" validate:"required"`
	MaxFrameSize     bytesize.ByteSize `mapstructure:"max_frame_size" yaml:"max_frame_size"`

	// TouchDir is where the demo interface's Touch method, running under an
	// ImpersonationScope, writes its marker file. Empty defaults to the
	// process's temp directory.
	TouchDir string `mapstructure:"touch_dir" yaml:"touch_dir"`
}

// SecurityConfig configures TLS / SecureChannel material.
type SecurityConfig struct {
	CertStorePath  string `mapstructure:"cert_store_path" yaml:"cert_store_path"`
	CertSubject    string `mapstructure:"cert_subject" yaml:"cert_subject"`
	MinTLSVersion  string `mapstructure:"min_tls_version" yaml:"min_tls_version" validate:"omitempty,oneof=1.2 1.3"`
	RequireMutual  bool   `mapstructure:"require_mutual_authn" yaml:"require_mutual_authn"`
}

// KerberosConfig configures the TryKerberos / RequireMutualAuthn security
// packages.
type KerberosConfig struct {
	KeytabPath       string        `mapstructure:"keytab_path" yaml:"keytab_path"`
	ServicePrincipal string        `mapstructure:"service_principal" yaml:"service_principal"`
	Krb5ConfPath     string        `mapstructure:"krb5_conf_path" yaml:"krb5_conf_path"`
	MaxClockSkew     time.Duration `mapstructure:"max_clock_skew" yaml:"max_clock_skew"`
}

// MetricsConfig configures the rpcmetrics registry exposition.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address" validate:"omitempty,hostname_port"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation over the whole configuration tree.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Default returns the compiled-in configuration used when no config file
// is present and no environment overrides apply.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Client: ClientConfig{
			CallMaxRetries:    3,
			CallRetrySleep:    5 * time.Second,
			CallRetryTimeSlot: 2500 * time.Millisecond,
			ConnectMaxRetries: 3,
			ConnectRetrySleep: 5 * time.Second,
		},
		Server: ServerConfig{
			ListenAddress:    "127.0.0.1:4435",
			ProtocolSequence: "tcp",
			EndpointMapPath:  defaultEndpointMapPath(),
			MaxFrameSize:     4 * bytesize.MiB,
		},
		Security: SecurityConfig{
			MinTLSVersion: "1.2",
		},
		Kerberos: KerberosConfig{
			Krb5ConfPath: "/etc/krb5.conf",
			MaxClockSkew: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
		},
	}
}

func defaultEndpointMapPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "rpcrt", "endpointmap")
	}
	return filepath.Join(dir, "rpcrt", "endpointmap")
}

// setupViper configures precedence: flags (bound by caller) > env > file >
// defaults. Environment variables use the RPCRT_ prefix, with "." replaced
// by "_" so e.g. client.call_max_retries becomes RPCRT_CLIENT_CALL_MAX_RETRIES.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("RPCRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.SetConfigName("rpcrt")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/rpcrt")
	v.AddConfigPath("/etc/rpcrt")
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		byteSizeDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		_ = from
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		return bytesize.ParseByteSize(s)
	}
}

// Load reads configuration from file, environment, and defaults, applying
// struct-tag validation before returning.
//
// boundFlags, if non-nil, has already had its pflag.FlagSet bound via
// v.BindPFlags by the caller (cmd/rpcrtd and cmd/rpcrtctl do this before
// calling Load) so CLI flags take precedence over everything else.
func Load(configPath string, boundFlags *viper.Viper) (*Config, error) {
	v := boundFlags
	if v == nil {
		v = viper.New()
	}
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if !found {
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if errors.As(err, &notFound) || errors.As(err, &pathErr) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read configuration file: %w", err)
	}
	return true, nil
}

// SaveConfig writes cfg to path as YAML, used by rpcrtctl's config-init flow.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
