package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/fencewatch/internal/config"
	"git.home.luguber.info/inful/fencewatch/internal/observability"
)

// Global context passed to subcommands if we need to share global state later.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"fencewatch.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run          RunCmd          `cmd:"" help:"Run the tracking daemon (foreground pipeline, background agent, admin server)"`
	Agent        AgentCmd        `cmd:"" help:"Run only the background agent loop (no admin server, no realtime channel)"`
	Status       StatusCmd       `cmd:"" help:"Show the status of a running daemon"`
	Fences       FencesCmd       `cmd:"" help:"List geofences from the remote service"`
	Distance     DistanceCmd     `cmd:"" help:"Show the authoritative daily distance for a date"`
	LastLocation LastLocationCmd `cmd:"" name:"last-location" help:"Show a user's last reported location (supporter mode)"`
	Watch        WatchCmd        `cmd:"" help:"Stream a user's fixes from the realtime channel (supporter mode)"`
	Init         InitCmd         `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(observability.NewContextHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.SetDefault(logger)
	return nil
}

// loadConfig loads the configuration and reconfigures the default logger
// per its logging section. The -v flag always wins on level.
func loadConfig(root *CLI) (*config.Config, error) {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch config.NormalizeLogLevel(string(cfg.Logging.Level)) {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	}
	if root.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if config.NormalizeLogFormat(string(cfg.Logging.Format)) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(observability.NewContextHandler(handler)))

	return cfg, nil
}
