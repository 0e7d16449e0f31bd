package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	NoBrowser         bool          `json:"no_browser"`
	BrowserCmd        string        `json:"browser_cmd,omitempty"`
	ClaudeProjectsDir string        `json:"claude_projects_dir"`
	CodexSessionsDir  string        `json:"codex_sessions_dir"`
	DataDir           string        `json:"data_dir"`
	SessionsDir       string        `json:"-"`
	UploadsDir        string        `json:"-"`
	DBPath            string        `json:"-"`
	Machine           string        `json:"machine"`
	ProjectGlob       string        `json:"project_glob"`
	IncludeExec       bool          `json:"include_exec"`
	WriteTimeout      time.Duration `json:"-"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".agentsync")
	cfg := Config{
		Host:              "127.0.0.1",
		Port:              8080,
		ClaudeProjectsDir: filepath.Join(home, ".claude", "projects"),
		CodexSessionsDir:  filepath.Join(home, ".codex", "sessions"),
		DataDir:           dataDir,
		Machine:           "local",
		ProjectGlob:       "*",
		WriteTimeout:      30 * time.Second,
	}
	cfg.deriveDataPaths()
	return cfg, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, config file, and env,
// without parsing CLI flags. Use this for subcommands that manage
// their own flag sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}

	// A .env in the working directory feeds the same variables
	// loadEnv reads. Existing process env always wins.
	_ = godotenv.Load()

	// The data dir decides where the config file lives, so its env
	// override applies before the file is read.
	if v := os.Getenv("AGENT_SYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.loadEnv()
	cfg.deriveDataPaths()
	return cfg, nil
}

// deriveDataPaths recomputes the paths that live under DataDir.
func (c *Config) deriveDataPaths() {
	c.SessionsDir = filepath.Join(c.DataDir, "sessions")
	c.UploadsDir = filepath.Join(c.DataDir, "uploads")
	c.DBPath = filepath.Join(c.DataDir, "agentsync.db")
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host              string `json:"host"`
		Port              int    `json:"port"`
		BrowserCmd        string `json:"browser_cmd"`
		ClaudeProjectsDir string `json:"claude_projects_dir"`
		CodexSessionsDir  string `json:"codex_sessions_dir"`
		Machine           string `json:"machine"`
		ProjectGlob       string `json:"project_glob"`
		IncludeExec       *bool  `json:"include_exec"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Host != "" {
		c.Host = file.Host
	}
	if file.Port != 0 {
		c.Port = file.Port
	}
	if file.BrowserCmd != "" {
		c.BrowserCmd = file.BrowserCmd
	}
	if file.ClaudeProjectsDir != "" {
		c.ClaudeProjectsDir = file.ClaudeProjectsDir
	}
	if file.CodexSessionsDir != "" {
		c.CodexSessionsDir = file.CodexSessionsDir
	}
	if file.Machine != "" {
		c.Machine = file.Machine
	}
	if file.ProjectGlob != "" {
		c.ProjectGlob = file.ProjectGlob
	}
	if file.IncludeExec != nil {
		c.IncludeExec = *file.IncludeExec
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("CLAUDE_PROJECTS_DIR"); v != "" {
		c.ClaudeProjectsDir = v
	}
	if v := os.Getenv("CODEX_SESSIONS_DIR"); v != "" {
		c.CodexSessionsDir = v
	}
	if v := os.Getenv("AGENT_SYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("AGENT_SYNC_MACHINE"); v != "" {
		c.Machine = v
	}
	if v := os.Getenv("AGENT_SYNC_PROJECT_GLOB"); v != "" {
		c.ProjectGlob = v
	}
	if v := os.Getenv("AGENT_SYNC_INCLUDE_EXEC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.IncludeExec = b
		}
	}
	if v := os.Getenv("AGENT_SYNC_BROWSER"); v != "" {
		c.BrowserCmd = v
	}
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.Bool(
		"no-browser", false,
		"Don't open browser on startup",
	)
	fs.String(
		"glob", "*",
		"Only sync Claude projects whose directory matches this glob",
	)
	fs.Bool(
		"include-exec", false,
		"Index non-interactive Codex exec sessions",
	)
	fs.String("machine", "", "Machine label stored with synced sessions")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "no-browser":
			cfg.NoBrowser = f.Value.String() == "true"
		case "glob":
			cfg.ProjectGlob = f.Value.String()
		case "include-exec":
			cfg.IncludeExec = f.Value.String() == "true"
		case "machine":
			cfg.Machine = f.Value.String()
		}
	})
}
