package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "MBOX_TRANSCRIPTS"
	DefaultDataDir = "transcripts_data"
)

// Config captures all options required to run the transcript pipeline.
type Config struct {
	MboxPath      string
	DataDir       string
	StateDir      string
	NoWrap        bool
	Analyze       bool
	ChatLabel     string
	IncludeHeader []string
	ExcludeHeader []string
	LogLevel      string
	LogDir        string
	Progress      bool
	Timezone      string
	Location      *time.Location
}

// Paths lists the artifacts kept in the data directory.
type Paths struct {
	ChatsAll string
	ChatsOld string
	ChatsNew string
	XMLDir   string
	TextDir  string
	NameMap  string
}

func (c Config) Paths() Paths {
	return Paths{
		ChatsAll: filepath.Join(c.DataDir, "chats_all.mbox"),
		ChatsOld: filepath.Join(c.DataDir, "chats_old.mbox"),
		ChatsNew: filepath.Join(c.DataDir, "chats_new.mbox"),
		XMLDir:   filepath.Join(c.DataDir, "xml"),
		TextDir:  filepath.Join(c.DataDir, "text"),
		NameMap:  filepath.Join(c.DataDir, "name_map"),
	}
}

// RegisterPersistentFlags attaches the flags shared by every command.
func RegisterPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional config file (yaml, json or toml) providing any flag value")
	flags.String("data-dir", DefaultDataDir, "Directory holding intermediate mboxes, conversation logs and transcripts")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory to additionally write a log file into")
	flags.String("timezone", "", "IANA time zone used for rendered times (default: local zone)")
}

// RegisterFlags attaches the pipeline flags to the root command.
func RegisterFlags(cmd *cobra.Command) error {
	RegisterPersistentFlags(cmd)

	flags := cmd.Flags()
	flags.String("mbox", "", "Path to the mail archive (.mbox); may also be given as the first argument")
	flags.BoolP("no-wrap", "n", false, "Don't wrap transcript lines at 79 characters")
	flags.BoolP("analyze", "a", false, "Print possible conversation thread errors (out-of-order timestamps)")
	flags.String("chat-label", "Chat", "Archive label that marks chat records")
	flags.StringArray("include-header", nil, "Regex allow-list applied to record headers (mutually exclusive with --exclude-header)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to record headers (mutually exclusive with --include-header)")
	flags.Bool("progress", true, "Show a progress bar while scanning the archive (info log level only)")
	return nil
}

// LoadConfig converts the parsed flags, environment and optional config file
// into a validated Config for the pipeline command.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	cfg, err := load(cmd)
	if err != nil {
		return Config{}, err
	}
	if len(args) > 0 && args[0] != "" {
		cfg.MboxPath = args[0]
	}
	if err := validateConfig(cfg, true); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDataConfig loads the options for commands that only read the data directory.
func LoadDataConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := load(cmd)
	if err != nil {
		return Config{}, err
	}
	if err := validateConfig(cfg, false); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("data-dir", DefaultDataDir)
	v.SetDefault("log-level", "info")
	v.SetDefault("chat-label", "Chat")
	v.SetDefault("progress", true)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString("log-level")))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	dataDir := v.GetString("data-dir")
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	dataDir = filepath.Clean(dataDir)

	cfg := Config{
		MboxPath:      v.GetString("mbox"),
		DataDir:       dataDir,
		StateDir:      filepath.Join(dataDir, "state"),
		NoWrap:        v.GetBool("no-wrap"),
		Analyze:       v.GetBool("analyze"),
		ChatLabel:     strings.TrimSpace(v.GetString("chat-label")),
		IncludeHeader: v.GetStringSlice("include-header"),
		ExcludeHeader: v.GetStringSlice("exclude-header"),
		LogLevel:      logLevel,
		LogDir:        v.GetString("log-dir"),
		Progress:      v.GetBool("progress"),
		Timezone:      strings.TrimSpace(v.GetString("timezone")),
	}

	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, err
	}
	cfg.Location = loc
	return cfg, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid --timezone %q: %w", name, err)
	}
	return loc, nil
}

func validateConfig(cfg Config, needArchive bool) error {
	if needArchive {
		if cfg.MboxPath == "" {
			return fmt.Errorf("--mbox is required")
		}
		info, err := os.Stat(cfg.MboxPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("mbox %s does not exist", cfg.MboxPath)
			}
			return fmt.Errorf("stat mbox: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("mbox %s is a directory", cfg.MboxPath)
		}
	}
	if cfg.ChatLabel == "" {
		return fmt.Errorf("--chat-label must not be empty")
	}
	if len(cfg.IncludeHeader) > 0 && len(cfg.ExcludeHeader) > 0 {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
