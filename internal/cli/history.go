// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/export"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/storage"
)

// =============================================================================
// HISTORY COMMANDS
// =============================================================================

func (env *commandEnv) historyCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history [QUERY]",
		Short: "List or search saved threads",
		Long: `List saved threads, most recent first. With QUERY, only threads whose
title or turns contain it are listed.

Threads are referenced by their number in this list or by thread ID.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if jsonOut {
				return outputJSON(env.out, "history", func() (any, error) {
					return env.listThreads(query)
				})
			}
			threads, err := env.listThreads(query)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.out, strings.TrimRight(storage.FormatThreadList(threads), "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print threads as JSON")

	cmd.AddCommand(
		env.historyShowCmd(),
		env.historyExportCmd(),
		env.historyDeleteCmd(),
		env.historyClearCmd(),
	)
	return cmd
}

func (env *commandEnv) historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show N|ID",
		Short: "Print a saved thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			th, err := env.resolveThread(args[0])
			if err != nil {
				return err
			}
			r := NewRenderer(env.out, env.app.Config.UI, IsStdoutTTY())
			fmt.Fprintln(env.out, TitleStyle.Render(th.GetTitle()))
			r.Transcript(th.Messages)
			return nil
		},
	}
}

func (env *commandEnv) historyExportCmd() *cobra.Command {
	var (
		format string
		outDir string
		open   bool
	)
	cmd := &cobra.Command{
		Use:   "export N|ID",
		Short: "Export a saved thread as markdown, json or html",
		Long: `Export a saved thread. Without --output the export is printed to stdout.
With --output the export is written to a new file in that directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			th, err := env.resolveThread(args[0])
			if err != nil {
				return err
			}

			opts := export.DefaultOptions()
			opts.OutputDir = outDir
			opts.OpenAfterExport = open
			if theme := env.app.Config.UI.Theme; theme == "light" {
				opts.Theme = theme
			}
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return usageErrorf("%v", err)
			}

			if outDir == "" {
				if open {
					return usageErrorf("--open requires --output")
				}
				content, err := exporter.Export(th)
				if err != nil {
					return err
				}
				_, err = env.out.Write(content)
				return err
			}

			path, err := export.ExportToFile(th, exporter, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.out, "%s %s\n", SuccessStyle.Render("Exported to"), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "export format: md, json or html")
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "write a file into this directory instead of stdout")
	cmd.Flags().BoolVar(&open, "open", false, "open the exported file with the system viewer")
	return cmd
}

func (env *commandEnv) historyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete N|ID",
		Short: "Delete a saved thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := env.app.requireHistory()
			if err != nil {
				return err
			}
			th, err := env.resolveThread(args[0])
			if err != nil {
				return err
			}
			if err := history.Delete(th.ThreadID); err != nil {
				return err
			}
			fmt.Fprintf(env.out, "%s %s\n", SuccessStyle.Render("Deleted"), th.GetTitle())
			return nil
		},
	}
}

func (env *commandEnv) historyClearCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := env.app.requireHistory()
			if err != nil {
				return err
			}
			ok, err := requireConfirmation(cmd.InOrStdin(), env.out, confirm, IsTTY(), "delete all saved threads")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(env.out, "Cancelled.")
				return nil
			}
			if err := history.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(env.out, SuccessStyle.Render("History cleared."))
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "skip the confirmation prompt")
	return cmd
}

// listThreads lists saved threads, filtered by query when set.
func (env *commandEnv) listThreads(query string) ([]storage.ThreadMeta, error) {
	history, err := env.app.requireHistory()
	if err != nil {
		return nil, err
	}
	if query != "" {
		return history.Search(query)
	}
	return history.List()
}

// resolveThread loads a thread by 1-based list number or by ID.
func (env *commandEnv) resolveThread(ref string) (*model.Thread, error) {
	history, err := env.app.requireHistory()
	if err != nil {
		return nil, err
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 {
			return nil, usageErrorf("thread numbers start at 1")
		}
		return history.LoadByIndex(n - 1)
	}
	return history.Load(ref)
}
