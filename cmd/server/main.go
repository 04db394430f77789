// Command orop-server runs the OROP API.
//
//	orop-server                              serve the API (default)
//	orop-server service-account create NAME  provision a service caller and print its API key
//
// Configuration comes from the environment, a .env file and config/config.yml.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/orop-community/orop-server/internal/auth"
	"github.com/orop-community/orop-server/internal/config"
	"github.com/orop-community/orop-server/internal/logger"
	"github.com/orop-community/orop-server/internal/server"
	"github.com/orop-community/orop-server/internal/service"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "orop-server",
		Short:        "Board game recommendation API for the OROP community",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(configFile)
			if err != nil {
				return err
			}
			srv, err := server.New(cmd.Context(), cfg, log)
			if err != nil {
				log.Error("failed to create server", slog.String("error", err.Error()))
				return err
			}
			if err := srv.Start(); err != nil {
				log.Error("server error", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")

	root.AddCommand(serviceAccountCmd(&configFile))
	return root
}

func serviceAccountCmd(configFile *string) *cobra.Command {
	group := &cobra.Command{
		Use:   "service-account",
		Short: "Manage non-human API callers",
	}
	group.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a service account and print its API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load(*configFile)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := server.OpenStore(ctx, cfg.Store, log)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			// no sessions are issued here, so no token service
			dir := service.NewDirectory(store.Accounts, nil, auth.NewRoleSet(nil), log)
			acc, err := dir.CreateServiceAccount(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "userId: %s\napikey: %s\n", acc.UserID, acc.APIKey)
			return nil
		},
	})
	return group
}

// load reads .env (when present), the config and builds the logger.
func load(configFile string) (*config.Config, *slog.Logger, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("loading .env: %w", err)
	}

	var files []string
	if configFile != "" {
		files = append(files, configFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.Log, os.Stdout), nil
}
