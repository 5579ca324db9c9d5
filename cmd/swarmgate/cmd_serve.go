package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentswarm/swarmgate/pkg/bus"
	"github.com/agentswarm/swarmgate/pkg/config"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/server"
	"github.com/agentswarm/swarmgate/pkg/transport"
	"github.com/agentswarm/swarmgate/pkg/wake"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		id, err := openEnv()
		if err != nil {
			return err
		}
		defer id.close()
		return runServer(cfg, id)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8710", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cfg *config.Config, e *env) error {
	mb := bus.New(cfg.QueueMaxSize)

	prefs, err := wake.LoadPreferences(cfg.WakeEndpoint.PrefsFile)
	if err != nil {
		return err
	}
	client := transport.New(cfg.Agent.AgentID)
	trigger := wake.NewTrigger(e.store, prefs, client, wake.TriggerConfig{
		Enabled:        cfg.Wake.Enabled,
		Endpoint:       cfg.Wake.Endpoint,
		TimeoutSeconds: cfg.Wake.TimeoutSeconds,
		AgentID:        cfg.Agent.AgentID,
	})

	var waker *wake.Coordinator
	if cfg.WakeEndpoint.Enabled {
		invoker, err := wake.NewInvoker(cfg.WakeEndpoint.InvokeMethod,
			cfg.WakeEndpoint.TmuxTarget, cfg.WakeEndpoint.WebhookURL)
		if err != nil {
			return err
		}
		sessions := wake.NewSessionManager(cfg.WakeEndpoint.SessionFile)
		waker = wake.NewCoordinator(invoker, sessions, e.store.Sessions(), cfg.WakeEndpoint.SessionTimeoutMinutes)
	}

	srv := server.New(cfg, e.store, mb, e.service, waker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trigger.Run(ctx, mb)

	maint := server.NewMaintenance(e.store)
	maint.SessionTimeoutMinutes = cfg.WakeEndpoint.SessionTimeoutMinutes
	if err := maint.Start(); err != nil {
		return err
	}
	if err := srv.Start(serveAddr); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.InfoC("server", "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	maint.Stop()
	mb.Close()
	return srv.Stop(shutdownCtx)
}
