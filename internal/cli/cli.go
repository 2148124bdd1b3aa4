// Package cli implements the prj command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/projectorhq/projector/internal/config"
	"github.com/projectorhq/projector/internal/identity"
	"github.com/projectorhq/projector/internal/logging"
)

// Run starts the CLI and returns the process exit code.
func Run(args []string, version string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", identity.CLIName, err)
		return 1
	}
	closeLogger, err := logging.Init(cfg.Logging, logging.InitOptions{Version: version})
	if err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
		slog.Error("init logging failed; using stderr fallback", "error", err)
	} else if closeLogger != nil {
		defer func() { _ = closeLogger() }()
	}

	root := rootCommand(cfg, version)
	if err := root.Run(context.Background(), args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := exitErr.Error(); msg != "" {
				fmt.Fprintf(os.Stderr, "%s: %s\n", identity.CLIName, msg)
			}
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", identity.CLIName, err)
		return 1
	}
	return 0
}
