// Package main is the repoguard entry point.
//
// COMMANDS:
//
//	repoguard serve     run the HTTP server (default)
//	repoguard app-jwt   print a freshly minted GitHub App JWT, for curl-ing
//	                    the App endpoints by hand
//
// Both read configuration from the environment (and .env in development),
// so SESSION_SECRET must be set even for app-jwt.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakif/repoguard/internal/config"
	"github.com/sakif/repoguard/internal/githubapp"
	"github.com/sakif/repoguard/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "repoguard",
		Short: "GitHub identity and credential broker",
		Long: `repoguard signs users in with GitHub OAuth, tracks GitHub App
installations and hands out the right credential (user token or
installation token) for each call it proxies to GitHub.`,
		SilenceUsage: true,
	}

	serve := newServeCmd()
	root.AddCommand(serve, newAppJWTCmd())
	root.RunE = serve.RunE
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			cfg.LogSummary(logger)

			if cfg.DBPath != ":memory:" {
				dir := filepath.Dir(cfg.DBPath)
				if err := os.MkdirAll(dir, 0o755); err != nil {
					logger.Error("failed to create database directory",
						slog.String("dir", dir),
						slog.String("error", err.Error()),
					)
					return err
				}
			}

			srv, err := server.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to create server", slog.String("error", err.Error()))
				return err
			}

			// Start blocks until SIGINT/SIGTERM.
			if err := srv.Start(); err != nil {
				logger.Error("server error", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}

func newAppJWTCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "app-jwt",
		Short: "Print a GitHub App JWT valid for about ten minutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			identity := cfg.AppIdentity(logger)
			assertion, err := githubapp.NewIssuer(identity, logger).Assertion(cmd.Context())
			if err != nil {
				return err
			}

			logger.Debug("minted app assertion", slog.Any("assertion", assertion))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), assertion.Token)
			return err
		},
	}
}

// newLogger writes text logs to stderr so app-jwt output stays pipeable.
func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
