package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/dirsync/internal/config"
	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/logging"
	"github.com/hpungsan/dirsync/internal/ops"
	"github.com/hpungsan/dirsync/internal/session"
	"github.com/hpungsan/dirsync/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "dirsync",
		Usage:   "Live directory listings that stay in step with the file system",
		Version: Version,
		Commands: []*cli.Command{
			lsCmd(db, cfg),
			watchCmd(db, cfg),
			serveCmd(db, cfg),
			settingsCmd(db, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// dirArg returns the first positional argument, or the working directory.
func dirArg(c *cli.Context) string {
	if c.NArg() > 0 {
		return c.Args().First()
	}
	return "."
}

// lsCmd creates the ls command.
func lsCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List a directory using its saved view settings",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sort", Aliases: []string{"s"}, Usage: "Sort key: name|size|date|type|attributes"},
			&cli.BoolFlag{Name: "desc", Aliases: []string{"r"}, Usage: "Sort descending"},
			&cli.StringFlag{Name: "filter", Aliases: []string{"f"}, Usage: "Glob or substring filter on names"},
			&cli.BoolFlag{Name: "hidden", Aliases: []string{"a"}, Usage: "Show hidden items"},
			&cli.BoolFlag{Name: "columns", Aliases: []string{"l"}, Usage: "Compute the checked column values"},
			&cli.IntFlag{Name: "limit", Value: ops.DefaultListLimit, Usage: "Max items to return"},
			&cli.IntFlag{Name: "offset", Value: 0, Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ListInput{
				Dir:     dirArg(c),
				Columns: c.Bool("columns"),
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			}
			if c.IsSet("sort") {
				key := c.String("sort")
				input.SortKey = &key
			}
			if c.IsSet("desc") {
				desc := c.Bool("desc")
				input.Descending = &desc
			}
			if c.IsSet("filter") {
				pattern := c.String("filter")
				input.Filter = &pattern
			}
			if c.IsSet("hidden") {
				hidden := c.Bool("hidden")
				input.ShowHidden = &hidden
			}

			output, err := ops.List(c.Context, db, cfg, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// watchCmd creates the watch command.
func watchCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Print one JSON line per change in a directory until interrupted",
		ArgsUsage: "[dir]",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(os.Stdout)
			err := ops.Watch(ctx, db, cfg, ops.WatchInput{Dir: dirArg(c)}, func(sig session.Signal) error {
				return enc.Encode(sig)
			})
			if err != nil && ctx.Err() == nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "Serve a live JSON/SSE view of a directory",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8484, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 0 || port > 65535 {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid port: %d", port)))
			}

			s, f, err := ops.OpenSession(c.Context, db, cfg, ops.OpenSessionInput{Dir: dirArg(c)})
			if err != nil {
				return outputError(err)
			}

			srv := web.NewServer(web.ServerOptions{
				Session: s,
				DB:      db,
				Folder:  f,
				Logger:  logging.L(),
				Bind:    c.String("bind"),
				Port:    port,
			})
			if err := web.Run(srv, s, logging.L()); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// settingsCmd creates the settings command group.
func settingsCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Manage per-folder view settings",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show the effective settings of a folder",
				ArgsUsage: "[dir]",
				Action: func(c *cli.Context) error {
					output, err := ops.GetSettings(db, cfg, ops.GetSettingsInput{Dir: dirArg(c)})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			settingsSetCmd(db, cfg),
			{
				Name:      "reset",
				Usage:     "Forget the settings saved for a folder",
				ArgsUsage: "[dir]",
				Action: func(c *cli.Context) error {
					output, err := ops.ResetSettings(db, cfg, ops.ResetSettingsInput{Dir: dirArg(c)})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List folders with saved settings",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: ops.DefaultSettingsLimit, Usage: "Max items to return"},
					&cli.IntFlag{Name: "offset", Value: 0, Usage: "Pagination offset"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListSettings(db, ops.ListSettingsInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// settingsSetCmd creates the settings set command.
func settingsSetCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Change and save the settings of a folder",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "sort", Aliases: []string{"s"}, Usage: "Sort key: name|size|date|type|attributes"},
			&cli.BoolFlag{Name: "desc", Usage: "Sort descending"},
			&cli.BoolFlag{Name: "folders-first", Usage: "Group folders before files"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "View mode, e.g. details|list|icons"},
			&cli.BoolFlag{Name: "next-mode", Usage: "Cycle to the next view mode"},
			&cli.StringFlag{Name: "filter", Aliases: []string{"f"}, Usage: "Filter pattern (empty clears it)"},
			&cli.BoolFlag{Name: "hidden", Usage: "Show hidden items"},
			&cli.BoolFlag{Name: "case-sensitive", Usage: "Match the filter case-sensitively"},
			&cli.StringFlag{Name: "columns", Usage: "Comma-separated checked columns"},
		},
		Action: func(c *cli.Context) error {
			input := ops.SetSettingsInput{
				Dir:           dirArg(c),
				SortKey:       stringFlag(c, "sort"),
				Descending:    boolFlag(c, "desc"),
				FoldersFirst:  boolFlag(c, "folders-first"),
				Mode:          stringFlag(c, "mode"),
				NextMode:      c.Bool("next-mode"),
				FilterPattern: stringFlag(c, "filter"),
				ShowHidden:    boolFlag(c, "hidden"),
				CaseSensitive: boolFlag(c, "case-sensitive"),
			}
			if c.IsSet("columns") {
				input.Columns = parseList(c.String("columns"))
				if input.Columns == nil {
					input.Columns = []string{}
				}
			}

			output, err := ops.SetSettings(db, cfg, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if dErr, ok := err.(*errors.DirsyncError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", dErr.Code, dErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stringFlag returns the flag value if it was given on the command line.
func stringFlag(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}

// boolFlag returns the flag value if it was given on the command line.
func boolFlag(c *cli.Context, name string) *bool {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Bool(name)
	return &v
}

// parseList splits a comma-separated string, dropping empty entries.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
