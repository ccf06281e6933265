// Package main provides the vnidsctl control-plane CLI client.
//
// Every subcommand maps one-to-one onto a control-plane command (spec.md
// §6): status, stats, events, rules, reload, config, shutdown. Grounded in
// original_source/vnids-cli/src/{client,commands,main,output}.c for the
// command-to-request mapping and exit codes, and in the teacher's
// cli/cmd package for the one-*cli.Command-per-subcommand layout.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chenlehua/vnidsd/daemon"
	"github.com/chenlehua/vnidsd/ipc"
)

// commit is set via ldflags at build time.
var commit = "unknown"

// defaultSocketPath is used when --socket is not given.
const defaultSocketPath = "/var/run/vnidsd/control.sock"

func main() {
	app := &cli.App{
		Name:    "vnidsctl",
		Usage:   "control-plane client for vnidsd",
		Version: fmt.Sprintf("%s (commit: %s)", daemon.Version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "socket", Usage: "control socket path", Value: defaultSocketPath},
			&cli.BoolFlag{Name: "json", Usage: "print the raw JSON response"},
			&cli.BoolFlag{Name: "quiet", Usage: "suppress non-error output"},
		},
		Commands: []*cli.Command{
			statusCommand(),
			statsCommand(),
			eventsCommand(),
			rulesCommand(),
			reloadCommand(),
			configCommand(),
			shutdownCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "vnidsctl: %v\n", err)
		os.Exit(1)
	}
}

// request dials the control socket, sends one command, and renders the
// response per --json/--quiet. Returns a cli.ExitCoder on failure so the
// app's default error handling sets exit code 1.
func request(c *cli.Context, command string, params map[string]any) error {
	sock := c.String("socket")
	cl, err := dial(sock)
	if err != nil {
		return cli.Exit(fmt.Sprintf("vnidsctl: %v", err), 1)
	}
	defer cl.Close()

	resp, err := cl.Send(command, params)
	if err != nil {
		return cli.Exit(fmt.Sprintf("vnidsctl: %v", err), 1)
	}

	return render(c, resp)
}

// render prints the response per spec.md §6's CLI contract: "--json passes
// through the raw response"; otherwise the CLI prints the error code and
// message, or the data payload.
func render(c *cli.Context, resp *ipc.Response) error {
	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return cli.Exit(fmt.Sprintf("vnidsctl: encoding response: %v", err), 1)
		}
		if !resp.Success {
			return cli.Exit("", 1)
		}
		return nil
	}

	if !resp.Success {
		if !c.Bool("quiet") {
			fmt.Fprintf(os.Stderr, "error %d: %s\n", resp.ErrorCode, resp.Error)
		}
		return cli.Exit("", 1)
	}

	if c.Bool("quiet") {
		return nil
	}

	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	if resp.Data != nil {
		b, err := json.MarshalIndent(resp.Data, "", "  ")
		if err != nil {
			return cli.Exit(fmt.Sprintf("vnidsctl: encoding data: %v", err), 1)
		}
		fmt.Println(string(b))
	}
	return nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show daemon and detector status",
		Action: func(c *cli.Context) error { return request(c, "status", nil) },
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "show combined daemon and detector statistics",
		Action: func(c *cli.Context) error { return request(c, "get_stats", nil) },
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "list recent security events",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "maximum number of events to return"},
			&cli.StringFlag{Name: "min-severity", Usage: "minimum severity (critical|high|medium|low|info)"},
			&cli.StringFlag{Name: "since", Usage: "RFC3339 timestamp lower bound"},
		},
		Action: func(c *cli.Context) error {
			params := map[string]any{}
			if c.IsSet("limit") {
				params["limit"] = c.Int("limit")
			}
			if c.IsSet("min-severity") {
				params["min_severity"] = c.String("min-severity")
			}
			if c.IsSet("since") {
				params["since"] = c.String("since")
			}
			return request(c, "list_events", params)
		},
	}
}

func rulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "list or validate the detector's rule files",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list rule files in the configured rules directory",
				Action: func(c *cli.Context) error { return request(c, "list_rules", nil) },
			},
			{
				Name:  "validate",
				Usage: "validate the detector's rule set",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "rules-dir", Usage: "override the configured rules directory"},
				},
				Action: func(c *cli.Context) error {
					params := map[string]any{}
					if c.IsSet("rules-dir") {
						params["rules_dir"] = c.String("rules-dir")
					}
					return request(c, "validate_rules", params)
				},
			},
		},
	}
}

func reloadCommand() *cli.Command {
	return &cli.Command{
		Name:   "reload",
		Usage:  "signal the detector to reload its rule set",
		Action: func(c *cli.Context) error { return request(c, "reload_rules", nil) },
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "set a whitelisted configuration key (only log_level and max_events take effect live)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Required: true, Usage: "configuration key to set"},
			&cli.StringFlag{Name: "value", Required: true, Usage: "value to apply"},
		},
		Action: func(c *cli.Context) error {
			return request(c, "set_config", map[string]any{c.String("key"): c.String("value")})
		},
	}
}

func shutdownCommand() *cli.Command {
	return &cli.Command{
		Name:  "shutdown",
		Usage: "request graceful daemon shutdown",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "skip the confirmation prompt"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") && !c.Bool("quiet") {
				fmt.Fprint(os.Stderr, "this will stop the vnidsd daemon; pass --yes to confirm: ")
				var confirm string
				fmt.Scanln(&confirm)
				if confirm != "yes" && confirm != "y" {
					return errors.New("shutdown aborted")
				}
			}
			return request(c, "shutdown", nil)
		},
	}
}
