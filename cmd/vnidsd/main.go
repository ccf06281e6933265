// Package main provides the vnidsd supervisor daemon entrypoint.
//
// Usage:
//
//	vnidsd run --config /etc/vnidsd/vnidsd.yaml
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chenlehua/vnidsd/config"
	"github.com/chenlehua/vnidsd/daemon"
)

// commit is set via ldflags at build time.
var commit = "unknown"

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = "/etc/vnidsd/vnidsd.yaml"

func main() {
	app := &cli.App{
		Name:           "vnidsd",
		Usage:          "network intrusion-detection supervisor daemon",
		Version:        fmt.Sprintf("%s (commit: %s)", daemon.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			runCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit(), matching the
// teacher's own CLI entrypoints' error handling.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "vnidsd: %v\n", err)
	os.Exit(1)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "load configuration and run the daemon until shutdown",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the daemon configuration file",
				Value: defaultConfigPath,
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("vnidsd: %v", err), 1)
	}

	daemon.Version = fmt.Sprintf("%s (commit: %s)", daemon.Version, commit)

	d, err := daemon.New(cfg, configPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("vnidsd: %v", err), 1)
	}

	if err := d.Run(); err != nil {
		return cli.Exit(fmt.Sprintf("vnidsd: %v", err), 1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	signal.Ignore(syscall.SIGPIPE)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.Shutdown()
				return
			case syscall.SIGHUP:
				if err := d.ReloadConfig(); err != nil {
					fmt.Fprintf(os.Stderr, "vnidsd: config reload failed: %v\n", err)
				}
			case syscall.SIGUSR1:
				d.DumpStats()
			}
		}
	}()

	d.Wait()
	return nil
}
