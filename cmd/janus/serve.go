package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/janus-ipc/janus/internal/admin"
	"github.com/janus-ipc/janus/internal/config"
	"github.com/janus-ipc/janus/internal/manifest"
	"github.com/janus-ipc/janus/internal/observability"
	"github.com/janus-ipc/janus/internal/server"
)

var (
	serveManifests []string
	serveConfig    string
	serveAdminAddr string
	serveCleanup   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a janus server on a Unix datagram socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultServerConfig()
		if serveConfig != "" {
			loaded, err := config.LoadServerConfig(serveConfig)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if flagSocket != "" {
			cfg.SocketPath = flagSocket
		}
		if serveAdminAddr != "" {
			cfg.AdminAddr = serveAdminAddr
		}
		if serveCleanup {
			cfg.CleanupOnStart = true
		}
		if len(serveManifests) > 0 {
			cfg.ManifestPaths = serveManifests
		}
		if cfg.SocketPath == "" {
			return fmt.Errorf("--socket or socket_path in --config is required")
		}

		var m *manifest.Manifest
		if len(cfg.ManifestPaths) > 0 {
			loaded, err := manifest.ParseFiles(cfg.ManifestPaths)
			if err != nil {
				return err
			}
			m = loaded
		}

		observability.InitLogger(cfg.Name)
		srv, err := server.New(cfg, m)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Close()

		var adminSrv *admin.Server
		if cfg.AdminAddr != "" {
			adminSrv = admin.New(srv, cfg.AdminCorsOrigins, cfg.AdminToken)
			go func() {
				if err := adminSrv.Start(cfg.AdminAddr); err != nil {
					log.Error().Err(err).Msg("admin surface failed")
				}
			}()
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Info().Msg("shutting down")

		if adminSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			adminSrv.Shutdown(ctx)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringSliceVar(&serveManifests, "manifest", nil, "manifest file (JSON or YAML, repeatable)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "server config file (TOML)")
	serveCmd.Flags().StringVar(&serveAdminAddr, "admin-addr", "", "admin HTTP listen address")
	serveCmd.Flags().BoolVar(&serveCleanup, "cleanup", false, "remove an existing socket file on start")
}
