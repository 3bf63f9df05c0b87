// Command ptyhd is a small demonstration CLI for the half-duplex driver: it
// spawns an argv under synchronous request/response control and echoes each
// response chunk to stdout as the caller feeds it lines on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srgg/ptyhalfduplex/internal/stub"
	"github.com/srgg/ptyhalfduplex/pkg/config"
)

var (
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "ptyhd",
	Short:   "Drive an interactive command as a synchronous request/response session",
	Version: version,
}

func main() {
	// Before anything else — including cobra's flag parsing — check whether
	// this process was re-exec'd to play the stub or slave-launcher role
	// (spec.md §4.3 step 3: "become the stub; never returns"). The slave
	// launcher execs the user's command on success; RunStub returns once the
	// slave or the control pipe is gone, and main then exits.
	if stub.IsStub() {
		cfg := config.DefaultConfig()
		stub.RunStub(cfg.NewLogger(), cfg)
		return
	}
	if stub.IsSlaveLauncher() {
		stub.RunSlaveLauncher()
		return
	}

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ptyhd: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run -- command [args...]",
	Short: "Spawn command and drive it line-by-line from stdin",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	logger := cfg.NewLogger()
	if lvl, err := parseLevel(logLevel); err == nil {
		logger.SetLevel(lvl)
	}

	sess := newSession(cfg, logger)
	if err := sess.Spawn(args); err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	defer func() { _ = sess.Close() }()

	out, err := sess.Recv(0)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	if len(out) > 0 {
		fmt.Fprint(cmd.OutOrStdout(), string(out))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for sess.IsActive() && scanner.Scan() {
		if _, err := sess.Write(append(scanner.Bytes(), '\n')); err != nil {
			return fmt.Errorf("write: %w", err)
		}

		out, err := sess.Recv(0)
		if err != nil {
			return fmt.Errorf("recv: %w", err)
		}
		if len(out) > 0 {
			fmt.Fprint(cmd.OutOrStdout(), string(out))
		}
	}

	return nil
}

func init() {
	runCmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	runCmd.Flags().String("config", "", "path to a YAML config overlaying the defaults")
}
