package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/projectorhq/projector/internal/config"
	"github.com/projectorhq/projector/internal/identity"
	"github.com/projectorhq/projector/internal/registry"
	"github.com/projectorhq/projector/internal/switcher"
)

func rootCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:    identity.CLIName,
		Usage:   "switch a single editor window between workspace projects",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "workspace root directory"},
			&cli.BoolFlag{Name: "json", Usage: "machine-readable output"},
		},
		Commands: []*cli.Command{
			addCommand(cfg, version),
			removeCommand(cfg, version),
			listCommand(cfg, version),
			enableCommand(cfg, version),
			disableCommand(cfg, version),
			moveCommand(cfg, version),
			switchCommand(cfg, version),
			offCommand(cfg, version),
			sessionCommand(cfg, version),
			statusCommand(cfg, version),
			watchCommand(cfg, version),
		},
	}
}

func addCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "register a project directory",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "display name, defaults to the directory basename"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd, cfg, modeMutate)
			if err != nil {
				return err
			}
			defer a.close()
			path := strings.TrimSpace(cmd.Args().First())
			if path == "" {
				if path, err = os.Getwd(); err != nil {
					return err
				}
			}
			project, err := a.reg.Add(path, cmd.String("name"))
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(out(cmd), "add", version, time.Now(), project)
			}
			_, err = fmt.Fprintf(out(cmd), "Added %s (%s)\n", project.Name, project.Path)
			return err
		},
	}
}

func removeCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "unregister a project and drop its session",
		ArgsUsage: "<project>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd, cfg, modeMutate)
			if err != nil {
				return err
			}
			defer a.close()
			project, err := resolveProject(a.reg, cmd.Args().First())
			if err != nil {
				return err
			}
			if err := a.sw.ClearSession(project.ID); err != nil {
				return err
			}
			if err := a.reg.Delete(project.ID); err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(out(cmd), "remove", version, time.Now(), project)
			}
			_, err = fmt.Fprintf(out(cmd), "Removed %s\n", project.Name)
			return err
		},
	}
}

type listRow struct {
	Position int    `json:"position,omitempty"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Enabled  bool   `json:"enabled"`
	Session  bool   `json:"session"`
	Tabs     int    `json:"tabs"`
	Active   bool   `json:"active"`
}

func listCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "list registered projects",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			start := time.Now()
			a, err := newApp(cmd, cfg, modeReadOnly)
			if err != nil {
				return err
			}
			defer a.close()
			activeID := a.sw.ActiveProjectID()
			rows := make([]listRow, 0)
			for _, p := range a.reg.List() {
				rows = append(rows, listRow{
					Position: a.reg.DynamicOrder(p.ID),
					Name:     p.Name,
					Path:     p.Path,
					Enabled:  p.Enabled,
					Session:  p.SessionEnabled,
					Tabs:     a.sw.ProjectTabCount(p.ID),
					Active:   p.ID == activeID,
				})
			}
			if cmd.Bool("json") {
				return writeJSON(out(cmd), "list", version, start, rows)
			}
			for _, row := range rows {
				marker := " "
				if row.Active {
					marker = "*"
				}
				position := "-"
				if row.Position > 0 {
					position = fmt.Sprintf("%d", row.Position)
				}
				flags := ""
				if !row.Enabled {
					flags = " (disabled)"
				} else if !row.Session {
					flags = " (no session)"
				}
				if _, err := fmt.Fprintf(out(cmd), "%s %s  %-20s %s  tabs:%d%s\n",
					marker, position, row.Name, row.Path, row.Tabs, flags); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func enableCommand(cfg config.Config, version string) *cli.Command {
	return setEnabledCommand(cfg, version, "enable", "enable a project for switching", "Enabled", true)
}

func disableCommand(cfg config.Config, version string) *cli.Command {
	return setEnabledCommand(cfg, version, "disable", "remove a project from the switch rotation", "Disabled", false)
}

func setEnabledCommand(cfg config.Config, version, name, usage, done string, value bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<project>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd, cfg, modeMutate)
			if err != nil {
				return err
			}
			defer a.close()
			project, err := resolveProject(a.reg, cmd.Args().First())
			if err != nil {
				return err
			}
			if err := a.reg.SetEnabled(project.ID, value); err != nil {
				return err
			}
			project, _ = a.reg.Get(project.ID)
			if cmd.Bool("json") {
				return writeJSON(out(cmd), name, version, time.Now(), project)
			}
			_, err = fmt.Fprintf(out(cmd), "%s %s\n", done, project.Name)
			return err
		},
	}
}

func moveCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:      "move",
		Usage:     "move a project up or down in the switch order",
		ArgsUsage: "<project> <up|down>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd, cfg, modeMutate)
			if err != nil {
				return err
			}
			defer a.close()
			project, err := resolveProject(a.reg, cmd.Args().First())
			if err != nil {
				return err
			}
			var dir registry.MoveDirection
			switch strings.ToLower(cmd.Args().Get(1)) {
			case "up":
				dir = registry.MoveUp
			case "down":
				dir = registry.MoveDown
			default:
				return fmt.Errorf("direction must be up or down")
			}
			if err := a.reg.Move(project.ID, dir); err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(out(cmd), "move", version, time.Now(), listPositions(a.reg))
			}
			_, err = fmt.Fprintf(out(cmd), "%s is now position %d\n", project.Name, a.reg.DynamicOrder(project.ID))
			return err
		},
	}
}

func listPositions(reg *registry.Registry) []listRow {
	rows := make([]listRow, 0)
	for i, p := range reg.Enabled() {
		rows = append(rows, listRow{Position: i + 1, Name: p.Name, Path: p.Path, Enabled: true, Session: p.SessionEnabled})
	}
	return rows
}

func switchCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:      "switch",
		Aliases:   []string{"sw"},
		Usage:     "make a project the active one",
		ArgsUsage: "<project>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			start := time.Now()
			a, err := newApp(cmd, cfg, modeMutate)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.sw.Enable(); err != nil {
				return err
			}
			project, err := resolveProject(a.reg, cmd.Args().First())
			if err != nil {
				return err
			}
			res, err := a.sw.SwitchTo(ctx, project.ID)
			if err != nil {
				// Early rejects get a distinct exit code so scripts can tell
				// "nothing happened" from a mid-switch failure.
				if errors.Is(err, switcher.ErrUnknownProject) ||
					errors.Is(err, switcher.ErrProjectDisabled) ||
					errors.Is(err, switcher.ErrPathGone) ||
					errors.Is(err, switcher.ErrSwitchInProgress) {
					return cli.Exit(err.Error(), 2)
				}
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(out(cmd), "switch", version, start, res)
			}
			_, err = fmt.Fprintf(out(cmd), "Switched to %s (%s, restored %d, skipped %d)\n",
				project.Name, res.Strategy, res.Restored, res.Skipped)
			return err
		},
	}
}

func offCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:  "off",
		Usage: "stop filtering and restore the original excludes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd, cfg, modeMutate)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.sw.Disable(); err != nil {
				return err
			}
			if cmd.Bool("json") {
				return writeJSON(out(cmd), "off", version, time.Now(), nil)
			}
			_, err = fmt.Fprintln(out(cmd), "Switcher off; original excludes restored")
			return err
		},
	}
}

func sessionCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "manage persisted sessions",
		Commands: []*cli.Command{
			{
				Name:  "save",
				Usage: "save the active project's session now",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(cmd, cfg, modeMutate)
					if err != nil {
						return err
					}
					defer a.close()
					count, err := a.sw.SaveCurrentSession()
					if err != nil {
						return err
					}
					if cmd.Bool("json") {
						return writeJSON(out(cmd), "session.save", version, time.Now(), map[string]int{"tabs": count})
					}
					_, err = fmt.Fprintf(out(cmd), "Saved %d tabs\n", count)
					return err
				},
			},
			{
				Name:      "clear",
				Usage:     "drop a project's saved session",
				ArgsUsage: "<project>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := newApp(cmd, cfg, modeMutate)
					if err != nil {
						return err
					}
					defer a.close()
					project, err := resolveProject(a.reg, cmd.Args().First())
					if err != nil {
						return err
					}
					if err := a.sw.ClearSession(project.ID); err != nil {
						return err
					}
					if cmd.Bool("json") {
						return writeJSON(out(cmd), "session.clear", version, time.Now(), project)
					}
					_, err = fmt.Fprintf(out(cmd), "Cleared session for %s\n", project.Name)
					return err
				},
			},
			sessionToggleCommand(cfg, version, "on", true),
			sessionToggleCommand(cfg, version, "off", false),
		},
	}
}

func sessionToggleCommand(cfg config.Config, version, name string, value bool) *cli.Command {
	usage := "turn session persistence on for a project"
	if !value {
		usage = "turn session persistence off for a project"
	}
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<project>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd, cfg, modeMutate)
			if err != nil {
				return err
			}
			defer a.close()
			project, err := resolveProject(a.reg, cmd.Args().First())
			if err != nil {
				return err
			}
			if err := a.reg.SetSessionEnabled(project.ID, value); err != nil {
				return err
			}
			if cmd.Bool("json") {
				project, _ = a.reg.Get(project.ID)
				return writeJSON(out(cmd), "session."+name, version, time.Now(), project)
			}
			_, err = fmt.Fprintf(out(cmd), "Session persistence %s for %s\n", name, project.Name)
			return err
		},
	}
}

func statusCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the active project and filter state",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			start := time.Now()
			a, err := newApp(cmd, cfg, modeReadOnly)
			if err != nil {
				return err
			}
			defer a.close()
			st := a.filt.State()
			activeName := ""
			if p, ok := a.reg.Get(a.sw.ActiveProjectID()); ok {
				activeName = p.Name
			}
			data := map[string]any{
				"workspaceRoot": a.host.Root(),
				"active":        activeName,
				"enabled":       a.reg.EnabledCount(),
				"filtering":     st.Filtering,
				"armed":         st.Armed,
			}
			if cmd.Bool("json") {
				return writeJSON(out(cmd), "status", version, start, data)
			}
			fmt.Fprintf(out(cmd), "Workspace: %s\n", a.host.Root())
			if activeName == "" {
				fmt.Fprintln(out(cmd), "Active:    (none)")
			} else {
				fmt.Fprintf(out(cmd), "Active:    %s\n", activeName)
			}
			fmt.Fprintf(out(cmd), "Enabled:   %d/%d projects\n", a.reg.EnabledCount(), registry.MaxEnabled)
			fmt.Fprintf(out(cmd), "Filtering: %v\n", st.Filtering)
			return nil
		},
	}
}

func watchCommand(cfg config.Config, version string) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "run in the foreground, autosaving the active session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd, cfg, modeWatch)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.sw.Enable(); err != nil {
				return err
			}
			if !cfg.AutosaveEnabled() {
				return fmt.Errorf("autosave is disabled in config")
			}
			runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(out(cmd), "Watching %s; Ctrl-C to stop\n", a.host.Root())
			switcher.NewAutosave(a.sw, a.host, cfg.Debounce()).Run(runCtx)
			return nil
		},
	}
}
