// config.go holds .chatsync config types and their resolution against flags.
package chatcli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	defaultStoreURL     = "http://127.0.0.1:8080"
	defaultTokenSource  = "file"
	defaultTokenEnv     = "CHATSYNC_TOKEN"
	defaultKVKey        = "chatsync:primary-token"
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultPollWindow   = 200
	configDirName       = ".chatsync"
)

// localConfig holds optional values from .chatsync/config.yaml (flags override).
type localConfig struct {
	StoreURL     string `yaml:"store_url"`
	AuthURL      string `yaml:"auth_url"`
	UserID       string `yaml:"user_id"`
	TokenSource  string `yaml:"token_source"` // static | env | file | kv
	Token        string `yaml:"token,omitempty"`
	TokenEnv     string `yaml:"token_env"`
	TokenFile    string `yaml:"token_file"`
	KVAddr       string `yaml:"kv_addr"`
	KVPassword   string `yaml:"kv_password,omitempty"`
	KVKey        string `yaml:"kv_key"`
	NATSURL      string `yaml:"nats_url"`
	PollInterval string `yaml:"poll_interval"`
	PollWindow   *int   `yaml:"poll_window"`
	Tracing      *bool  `yaml:"tracing"`
}

// options are the effective settings of one invocation.
type options struct {
	StoreURL     string
	AuthURL      string
	UserID       string
	TokenSource  string
	Token        string
	TokenEnv     string
	TokenFile    string
	KVAddr       string
	KVPassword   string
	KVKey        string
	NATSURL      string
	PollInterval time.Duration
	PollWindow   int
	Tracing      bool
	Timeout      time.Duration
}

// loadLocalConfig tries ./.chatsync/config.yaml then ~/.chatsync/config.yaml.
// Returns (config, pathToConfigFile, nil). If neither file exists, returns (empty, "", nil).
func loadLocalConfig() (localConfig, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return localConfig{}, "", err
	}
	try := []string{filepath.Join(cwd, configDirName, "config.yaml")}
	if home, err := os.UserHomeDir(); err == nil {
		try = append(try, filepath.Join(home, configDirName, "config.yaml"))
	}
	for _, p := range try {
		cfg, err := readConfig(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return localConfig{}, "", err
		}
		return cfg, p, nil
	}
	return localConfig{}, "", nil
}

func readConfig(path string) (localConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return localConfig{}, err
	}
	var cfg localConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return localConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// resolveOptions merges flags over cfg. A flag wins only when it was set
// explicitly; otherwise the config value, then the flag default, applies.
// Relative token files are resolved against configDir.
func resolveOptions(flags *pflag.FlagSet, cfg localConfig, configDir string) (options, error) {
	pick := func(name, fromConfig string) string {
		v, _ := flags.GetString(name)
		if !flags.Changed(name) && fromConfig != "" {
			return fromConfig
		}
		return v
	}

	opts := options{
		StoreURL:    strings.TrimSuffix(pick("store-url", cfg.StoreURL), "/"),
		AuthURL:     strings.TrimSuffix(pick("auth-url", cfg.AuthURL), "/"),
		UserID:      pick("user", cfg.UserID),
		TokenSource: strings.ToLower(strings.TrimSpace(pick("token-source", cfg.TokenSource))),
		Token:       pick("token", cfg.Token),
		TokenEnv:    pick("token-env", cfg.TokenEnv),
		TokenFile:   pick("token-file", cfg.TokenFile),
		KVAddr:      pick("kv-addr", cfg.KVAddr),
		KVPassword:  cfg.KVPassword,
		KVKey:       pick("kv-key", cfg.KVKey),
		NATSURL:     pick("nats-url", cfg.NATSURL),
	}
	if opts.TokenFile == "" {
		opts.TokenFile = filepath.Join(configDir, "token")
	} else if !filepath.IsAbs(opts.TokenFile) {
		opts.TokenFile = filepath.Join(configDir, opts.TokenFile)
	}

	opts.PollInterval, _ = flags.GetDuration("poll-interval")
	if !flags.Changed("poll-interval") && cfg.PollInterval != "" {
		d, err := time.ParseDuration(cfg.PollInterval)
		if err != nil || d <= 0 {
			return options{}, fmt.Errorf("invalid poll_interval %q in config", cfg.PollInterval)
		}
		opts.PollInterval = d
	}
	opts.PollWindow, _ = flags.GetInt("poll-window")
	if !flags.Changed("poll-window") && cfg.PollWindow != nil {
		opts.PollWindow = *cfg.PollWindow
	}
	opts.Tracing, _ = flags.GetBool("trace")
	if !flags.Changed("trace") && cfg.Tracing != nil {
		opts.Tracing = *cfg.Tracing
	}
	opts.Timeout, _ = flags.GetDuration("timeout")

	switch opts.TokenSource {
	case "static":
		if opts.Token == "" {
			return options{}, fmt.Errorf("token source static needs --token")
		}
	case "env", "file":
	case "kv":
		if opts.KVAddr == "" {
			return options{}, fmt.Errorf("token source kv needs --kv-addr")
		}
	default:
		return options{}, fmt.Errorf("unknown token source %q (static, env, file, kv)", opts.TokenSource)
	}
	if opts.StoreURL == "" {
		return options{}, fmt.Errorf("store url is empty")
	}
	return opts, nil
}

// configDirFor returns the .chatsync directory a config file lives in, or
// ./.chatsync when no config was found.
func configDirFor(configPath string) string {
	if configPath != "" {
		return filepath.Dir(configPath)
	}
	cwd, _ := os.Getwd()
	return filepath.Join(cwd, configDirName)
}
