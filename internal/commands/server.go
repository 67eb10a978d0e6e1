package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roost-sh/roost/internal/api"
	"github.com/roost-sh/roost/internal/infra"
	"github.com/roost-sh/roost/internal/provision"
	"github.com/roost-sh/roost/internal/queue"
	"github.com/roost-sh/roost/internal/reaper"
	"github.com/roost-sh/roost/internal/runtime"
)

var skipBootstrap bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server, worker and reaper",
	Long: `Start the HTTP API server together with the embedded
provisioning worker and the retention reaper. Companion services
(Docker network, Redis, RabbitMQ) are brought up first unless
--skip-bootstrap is given.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().BoolVar(&skipBootstrap, "skip-bootstrap", false, "do not create companion containers on startup")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	// Bring up companion services before anything connects to them.
	if !skipBootstrap {
		docker, err := runtime.New(cfg.Docker.Socket)
		if err != nil {
			return fmt.Errorf("failed to connect to docker: %w", err)
		}
		if err := infra.New(docker, infra.Defaults(cfg.Docker.Network)).Ensure(ctx); err != nil {
			// Partial infrastructure is survivable; the affected
			// subsystem will fail loudly on its own.
			log.Printf("Bootstrap incomplete: %v", err)
		}
	}

	manager, err := buildManager(cfg)
	if err != nil {
		return err
	}

	store, rdb := buildStore(cfg)
	defer rdb.Close()

	// Provisioning worker
	controller := provision.NewController(manager, store, provision.Config{
		PollInterval:  cfg.Provision.PollInterval,
		HealthTimeout: cfg.Provision.HealthTimeout,
		ProbeTimeout:  cfg.Provision.ProbeTimeout,
	})
	worker := queue.NewWorker(cfg.Broker.URL, controller)
	go func() {
		if err := worker.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Worker stopped: %v", err)
		}
	}()

	// Retention reaper
	rp := reaper.New(manager, cfg.Reaper.MaxAgeDays, cfg.Reaper.Interval)
	if cfg.Reaper.Enabled {
		rp.Start()
		defer rp.Stop()
	}

	// API server
	publisher := queue.NewPublisher(cfg.Broker.URL, store)
	defer publisher.Close()
	server := api.New(cfg, store, manager, publisher, rp)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\nShutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}
