// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/config"
)

// reachTimeout bounds the backend reachability check.
const reachTimeout = 5 * time.Second

// setupOptions are the values setup writes. Empty fields are prompted for
// unless NonInteractive is set.
type setupOptions struct {
	Path           string
	BaseURL        string
	Name           string
	Email          string
	DirectoryID    string
	NonInteractive bool
}

// checkResult is one line of the system check.
type checkResult struct {
	Name    string
	OK      bool
	Message string
}

func (env *commandEnv) setupCmd() *cobra.Command {
	var opts setupOptions
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the husky configuration file",
		Long: `Check the backend is reachable and write ~/.husky/config.toml.

Values not given as flags are asked for interactively. Existing settings are
kept as defaults.`,
		Args: cobra.NoArgs,
		// setup runs before a valid configuration exists, so it does not
		// build the App.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Path == "" {
				opts.Path = env.opts.ConfigPath
			}
			return runSetup(cmd.Context(), cmd.InOrStdin(), env.out, opts)
		},
	}
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "backend base URL")
	cmd.Flags().StringVar(&opts.Name, "name", "", "your name, sent with questions")
	cmd.Flags().StringVar(&opts.Email, "email", "", "your email, sent with questions and feedback")
	cmd.Flags().StringVar(&opts.DirectoryID, "directory-id", "", "your directory member ID")
	cmd.Flags().BoolVar(&opts.NonInteractive, "non-interactive", false, "do not prompt; use flags and defaults")
	return cmd
}

// runSetup performs the checks, gathers values and saves the config.
func runSetup(ctx context.Context, in io.Reader, out io.Writer, opts setupOptions) error {
	path := opts.Path
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		path = p
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		existing, err := config.LoadFromPath(path)
		if err != nil {
			fmt.Fprintf(out, "%s %v\n", WarningStyle.Render("Ignoring existing config:"), err)
		} else {
			cfg = existing
		}
	}

	fmt.Fprintln(out, TitleStyle.Render("husky setup"))

	reader := bufio.NewReader(in)
	ask := func(label, current string) string {
		if opts.NonInteractive {
			return current
		}
		if current != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, current)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		input, _ := reader.ReadString('\n')
		if v := strings.TrimSpace(input); v != "" {
			return v
		}
		return current
	}

	cfg.Backend.BaseURL = ask("Backend URL", firstNonEmpty(opts.BaseURL, cfg.Backend.BaseURL))
	cfg.User.Name = ask("Name (optional)", firstNonEmpty(opts.Name, cfg.User.Name))
	cfg.User.Email = ask("Email (optional)", firstNonEmpty(opts.Email, cfg.User.Email))
	cfg.User.DirectoryID = ask("Directory member ID (optional)", firstNonEmpty(opts.DirectoryID, cfg.User.DirectoryID))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, TitleStyle.Render("System check"))
	for _, r := range systemChecks(ctx, cfg) {
		status := SuccessStyle.Render("[OK]")
		if !r.OK {
			status = WarningStyle.Render("[!!]")
		}
		fmt.Fprintf(out, "  %s %s %s\n", status, RenderLabel(r.Name), r.Message)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("Configuration written to"), path)
	fmt.Fprintln(out, DimStyle.Render("Run 'husky' to start chatting."))
	return nil
}

// systemChecks reports the platform, backend reachability and whether the
// data directory is writable.
func systemChecks(ctx context.Context, cfg *config.Config) []checkResult {
	results := []checkResult{{
		Name:    "Platform",
		OK:      true,
		Message: runtime.GOOS + "/" + runtime.GOARCH,
	}}
	results = append(results, checkBackend(ctx, cfg.Backend.BaseURL))
	results = append(results, checkDataDir(cfg))
	return results
}

// checkBackend treats any HTTP response as reachable.
func checkBackend(ctx context.Context, baseURL string) checkResult {
	ctx, cancel := context.WithTimeout(ctx, reachTimeout)
	defer cancel()

	result := checkResult{Name: "Backend"}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Message = "unreachable (questions will fail until it is)"
		return result
	}
	resp.Body.Close()
	result.OK = true
	result.Message = fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode)
	return result
}

// checkDataDir creates the data directory and probes it for writes.
func checkDataDir(cfg *config.Config) checkResult {
	result := checkResult{Name: "Data directory"}
	dir, err := cfg.DataDir()
	if err != nil {
		result.Message = err.Error()
		return result
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		result.Message = err.Error()
		return result
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		result.Message = dir + " is not writable"
		return result
	}
	probe.Close()
	os.Remove(probe.Name())
	result.OK = true
	result.Message = dir
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
