package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
	_ "time/tzdata"

	"github.com/agentsync/agentsync/internal/config"
	"github.com/agentsync/agentsync/internal/db"
	"github.com/agentsync/agentsync/internal/server"
	"github.com/agentsync/agentsync/internal/sync"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	periodicSyncInterval = 15 * time.Minute
	watcherDebounce      = 500 * time.Millisecond
	browserPollInterval  = 100 * time.Millisecond
	browserPollAttempts  = 60
	maxLogFileSize       = 5 << 20
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "sync":
			runSync(os.Args[2:])
			return
		case "update":
			runUpdate(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("agentsync %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`agentsync %s - indexes and serves AI coding agent sessions

Syncs Claude Code and Codex session logs into a local SQLite index
with full-text search, and serves them over a local HTTP API with
live update notifications.

Usage:
  agentsync [flags]          Start the server (default command)
  agentsync serve [flags]    Start the server (explicit)
  agentsync sync [flags]     Run a one-shot sync and exit
  agentsync update [flags]   Check for and install updates
  agentsync version          Show version information
  agentsync help             Show this help

Server flags:
  -host string        Host to bind to (default "127.0.0.1")
  -port int           Port to listen on (default 8080)
  -no-browser         Don't open browser on startup
  -glob string        Only sync Claude projects matching this glob
  -include-exec       Index non-interactive Codex exec sessions
  -machine string     Machine label stored with synced sessions

Sync flags:
  -glob string        Only sync Claude projects matching this glob
  -include-exec       Index non-interactive Codex exec sessions

Update flags:
  -check              Check for updates without installing
  -yes                Install without confirmation prompt
  -force              Force check (ignore cache)

Environment variables:
  CLAUDE_PROJECTS_DIR   Claude Code projects directory
  CODEX_SESSIONS_DIR    Codex sessions directory
  AGENT_SYNC_DATA_DIR   Data directory (database, session copies)

Data is stored in ~/.agentsync/ by default.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)
	config.MigrateFromLegacy(cfg.DataDir)
	setupLogFile(cfg.DataDir)

	database := mustOpenDB(cfg)
	defer database.Close()

	engine := newEngine(database, cfg)

	runInitialSync(engine)

	stopWatcher := startFileWatcher(cfg, engine)
	defer stopWatcher()

	go startPeriodicSync(engine)

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, database, engine,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	url := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	fmt.Printf("agentsync %s listening at %s\n", version, url)

	if !cfg.NoBrowser {
		go openBrowser(cfg, url)
	}

	if err := srv.ListenAndServe(); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	glob := fs.String(
		"glob", "",
		"Only sync Claude projects whose directory matches this glob",
	)
	includeExec := fs.Bool(
		"include-exec", false,
		"Index non-interactive Codex exec sessions",
	)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: agentsync sync [flags]")
		fmt.Fprintln(fs.Output(), "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *glob != "" {
		cfg.ProjectGlob = *glob
	}
	if *includeExec {
		cfg.IncludeExec = true
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	config.MigrateFromLegacy(cfg.DataDir)

	database := mustOpenDB(cfg)
	defer database.Close()

	runInitialSync(newEngine(database, cfg))
}

func newEngine(database *db.DB, cfg config.Config) *sync.Engine {
	return sync.NewEngine(database, sync.Config{
		ClaudeDir:   cfg.ClaudeProjectsDir,
		CodexDir:    cfg.CodexSessionsDir,
		SessionsDir: cfg.SessionsDir,
		UploadsDir:  cfg.UploadsDir,
		Machine:     cfg.Machine,
		ProjectGlob: cfg.ProjectGlob,
		IncludeExec: cfg.IncludeExec,
	})
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("agentsync", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: agentsync [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

func mustOpenDB(cfg config.Config) *db.DB {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	return database
}

// setupLogFile mirrors log output into <dataDir>/debug.log so server
// runs leave an inspectable trail. The file is truncated when it
// outgrows the size limit.
func setupLogFile(dataDir string) {
	path := filepath.Join(dataDir, "debug.log")
	truncateLogFile(path, maxLogFileSize)

	f, err := os.OpenFile(
		path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644,
	)
	if err != nil {
		log.Printf("cannot open log file %s: %v", path, err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
}

// truncateLogFile empties the log file once it exceeds limit bytes.
// Symlinks are left alone so a redirected log can't clobber its
// target.
func truncateLogFile(path string, limit int64) {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		return
	}
	if info.Size() <= limit {
		return
	}
	_ = os.Truncate(path, 0)
}

func runInitialSync(engine *sync.Engine) {
	fmt.Println("Running initial sync...")

	var progress sync.Progress
	stats, err := engine.SyncAll(func(ev sync.Event) {
		progress.Apply(ev)
		printSyncProgress(progress)
	})
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}
	fmt.Printf(
		"\nSync complete: %d sessions (%d synced, %d skipped, %d failed)\n",
		stats.TotalSessions, stats.Synced, stats.Skipped, stats.Failed,
	)
}

func printSyncProgress(p sync.Progress) {
	if p.SessionsTotal > 0 {
		fmt.Printf(
			"\r  %d/%d sessions (%.0f%%) - %d messages",
			p.SessionsDone, p.SessionsTotal,
			p.Percent(), p.MessagesIndexed,
		)
	}
}

func startFileWatcher(
	cfg config.Config, engine *sync.Engine,
) func() {
	watcher, err := sync.NewWatcher(
		watcherDebounce, engine.SyncPaths,
	)
	if err != nil {
		log.Printf("warning: file watcher unavailable: %v", err)
		return func() {}
	}

	for _, root := range []string{
		cfg.ClaudeProjectsDir, cfg.CodexSessionsDir,
	} {
		if _, err := os.Stat(root); err == nil {
			if _, err := watcher.WatchRecursive(root); err != nil {
				log.Printf("warning: watching %s: %v", root, err)
			}
		}
	}
	watcher.Start()
	return watcher.Stop
}

func startPeriodicSync(engine *sync.Engine) {
	ticker := time.NewTicker(periodicSyncInterval)
	defer ticker.Stop()
	for range ticker.C {
		log.Println("Running scheduled sync...")
		if _, err := engine.SyncAll(nil); err != nil {
			log.Printf("scheduled sync failed: %v", err)
		}
	}
}

// openBrowser waits for the server to respond, then launches the
// configured or platform browser opener.
func openBrowser(cfg config.Config, url string) {
	for range browserPollAttempts {
		time.Sleep(browserPollInterval)
		resp, err := http.Get(url + "/api/v1/stats")
		if err == nil {
			resp.Body.Close()
			break
		}
	}

	if cfg.BrowserCmd != "" {
		_ = exec.Command(cfg.BrowserCmd, url).Run()
		return
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32",
			"url.dll,FileProtocolHandler", url)
	default:
		return
	}
	_ = cmd.Run()
}
