// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// commandEnv is shared by every command: global flags, the lazily built
// App and the output streams.
type commandEnv struct {
	opts appOptions
	app  *App
	out  io.Writer
	errw io.Writer

	// newApp is replaced in tests.
	newApp func(ctx context.Context, opts appOptions, errw io.Writer) (*App, error)
}

// NewRootCmd builds the husky command tree writing to out and errw.
func NewRootCmd(out, errw io.Writer) *cobra.Command {
	env := &commandEnv{out: out, errw: errw, newApp: newApp}
	return env.rootCmd()
}

func (env *commandEnv) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "husky",
		Short: "Chat with the directory assistant from your terminal",
		Long: `husky is a terminal client for the directory's AI assistant.

Answers stream in as they are generated. Anonymous use is limited to a few
questions per day; log in with a session token for unlimited questions and
threads that are saved to your account.

Run without arguments to start the interactive chat.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app, err := env.newApp(cmd.Context(), env.opts, env.errw)
			if err != nil {
				return err
			}
			env.app = app
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			env.closeApp()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.runChat(cmd.Context(), chatOptions{})
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Reason: err.Error()}
	})
	root.SetOut(env.out)
	root.SetErr(env.errw)

	flags := root.PersistentFlags()
	flags.StringVar(&env.opts.ConfigPath, "config", "", "config file (default ~/.husky/config.toml)")
	flags.BoolVarP(&env.opts.Verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&env.opts.Ephemeral, "ephemeral", false, "keep state in memory only (nothing written to disk)")

	root.AddCommand(
		env.chatCmd(),
		env.askCmd(),
		env.historyCmd(),
		env.continueCmd(),
		env.quotaCmd(),
		env.loginCmd(),
		env.logoutCmd(),
		env.setupCmd(),
	)
	return root
}

// closeApp releases the App. PersistentPostRun is skipped when a command
// fails, so Execute calls it as well.
func (env *commandEnv) closeApp() {
	if env.app != nil {
		env.app.Close()
		env.app = nil
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := &commandEnv{out: os.Stdout, errw: os.Stderr, newApp: newApp}
	err := env.rootCmd().ExecuteContext(ctx)
	env.closeApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		return ExitCode(err)
	}
	return ExitSuccess
}
