package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "GUARD_"
	// ConfigFileEnv names the environment variable pointing at an optional YAML config file.
	ConfigFileEnv = envPrefix + "CONFIG_FILE"
)

// AppConfig holds configuration values for the egress guard.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// LogFile, when set, receives a rotated copy of all log output.
	LogFile string `koanf:"log_file"`

	// Interface is the network interface handed to the capture command.
	Interface string `koanf:"interface" validate:"required"`

	// CaptureCommand is the line-oriented capture tool invocation. The token
	// "{interface}" is replaced with Interface.
	CaptureCommand string `koanf:"capture_command" validate:"required"`

	// TrustedDomains are allow-listed names; each also trusts every name below it.
	TrustedDomains []string `koanf:"trusted_domains" validate:"dive,required"`

	// TrustDir optionally holds additional allow-list files.
	TrustDir string `koanf:"trust_dir"`

	// TrustHostsFile is an /etc/hosts-style file whose names are trusted exactly.
	TrustHostsFile string `koanf:"trust_hosts_file"`

	// TrustCacheSize bounds the classification memo; 0 disables it.
	TrustCacheSize int `koanf:"trust_cache_size" validate:"gte=0"`

	// AuditDB is the sqlite audit log path.
	AuditDB string `koanf:"audit_db" validate:"required"`

	// StateDB is the block registry path; empty disables the registry.
	StateDB string `koanf:"state_db"`

	// RestoreBlocks re-applies registered blocks at startup.
	RestoreBlocks bool `koanf:"restore_blocks"`

	// FirewallBackend selects "iptables" or the in-memory "memory" dry-run table.
	FirewallBackend string `koanf:"firewall_backend" validate:"required,oneof=iptables memory"`

	// FirewallChain is the outbound chain that receives DROP rules.
	FirewallChain string `koanf:"firewall_chain" validate:"required"`

	// Resolvers is a list of DNS servers in ip:port format; empty uses the system resolver.
	Resolvers []string `koanf:"resolvers" validate:"dive,ip_port"`

	// ResolveTimeout bounds a single hostname resolution.
	ResolveTimeout time.Duration `koanf:"resolve_timeout" validate:"gt=0"`

	// MetricsAddr is the Prometheus listen address; empty disables the endpoint.
	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,listen_addr"`
}

// DEFAULT_APP_CONFIG holds the defaults applied before the config file and environment.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:            "prod",
	LogLevel:       "info",
	Interface:      "eth0",
	CaptureCommand: "tcpdump -i {interface} -l port not 22",
	TrustedDomains: []string{
		"google.com", "googleapis.com", "gstatic.com", "1e100.net",
		"wikipedia.org", "amazonaws.com", "apple.com",
		"localhost", "127.0.0.1", "mdns.mcast.net",
	},
	TrustHostsFile:  "/etc/hosts",
	TrustCacheSize:  4096,
	AuditDB:         "/var/lib/egress-guard/block_log.db",
	StateDB:         "/var/lib/egress-guard/blocks.db",
	RestoreBlocks:   true,
	FirewallBackend: "iptables",
	FirewallChain:   "OUTPUT",
	ResolveTimeout:  3 * time.Second,
}

// listKeys are split on commas and whitespace when read from the environment.
var listKeys = map[string]bool{
	"trusted_domains": true,
	"resolvers":       true,
}

// CaptureArgv substitutes the interface into the capture command template.
// The result still needs shell-style splitting.
func (c *AppConfig) CaptureArgv() string {
	return strings.ReplaceAll(c.CaptureCommand, "{interface}", c.Interface)
}

// validIPPort validates whether the provided field value is a valid "IP:Port" pair.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	return validPort(port)
}

// validListenAddr accepts "host:port" and ":port" listen addresses.
func validListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	return validPort(port)
}

func validPort(port string) bool {
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// envLoader loads environment variables with the prefix "GUARD_".
// Keys are lowercased with the prefix removed; list keys are split.
// It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			if key == ConfigFileEnv {
				return "", nil
			}
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			value = strings.TrimSpace(value)

			if listKeys[key] {
				return key, strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
			}
			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader merges a YAML config file over the defaults.
var fileLoader = func(k *koanf.Koanf, path string) error {
	return k.Load(file.Provider(path), yaml.Parser())
}

// registerValidation registers the custom "ip_port" and "listen_addr" validators.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	return v.RegisterValidation("listen_addr", validListenAddr)
}

// Load builds an AppConfig from defaults, the optional file named by
// GUARD_CONFIG_FILE, and GUARD_* environment variables, in that order,
// then validates it.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
