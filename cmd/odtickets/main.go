// Command odtickets manages archival request tickets: it processes the
// descriptor drop directory once (run) or on a schedule (daemon).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/opendachs/ticketd/internal/archive"
	"github.com/opendachs/ticketd/internal/audit"
	"github.com/opendachs/ticketd/internal/capture"
	"github.com/opendachs/ticketd/internal/config"
	"github.com/opendachs/ticketd/internal/database"
	"github.com/opendachs/ticketd/internal/intake"
	"github.com/opendachs/ticketd/internal/notifications"
	"github.com/opendachs/ticketd/internal/repository"
	"github.com/opendachs/ticketd/internal/runner"
	"github.com/opendachs/ticketd/internal/ticket"
	"github.com/opendachs/ticketd/internal/webrecorder"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "odtickets",
		Short:         "Archival request ticket manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "ticketd.yaml", "configuration file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newDaemonCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process the intake batch once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, cleanup, err := wire(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := r.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("submitted=%d confirmed=%d accepted=%d denied=%d expired=%d failed=%d\n",
				stats.Submitted, stats.Confirmed, stats.Accepted, stats.Denied, stats.Expired, stats.Failed)
			return nil
		},
	}
}

func newDaemonCmd(configPath *string) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Process the intake batch on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			r, cleanup, err := wireConfig(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			logger := log.New(log.Writer(), "[DAEMON] ", log.LstdFlags)

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					logger.Printf("metrics listening on %s", metricsAddr)
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Printf("metrics listener: %v", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// A batch that outlives the schedule interval must not overlap
			// the next firing; skipped runs pick the descriptors up later.
			c := cron.New(cron.WithChain(
				cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
			))
			_, err = c.AddFunc(cfg.Runner.Schedule, func() {
				if _, err := r.Run(ctx); err != nil {
					logger.Printf("batch run: %v", err)
				}
			})
			if err != nil {
				return fmt.Errorf("invalid runner schedule %q: %w", cfg.Runner.Schedule, err)
			}

			logger.Printf("scheduled batch runs: %s", cfg.Runner.Schedule)
			c.Start()
			<-ctx.Done()
			logger.Println("shutting down")
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	return cmd
}

func wire(configPath string) (*runner.Runner, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return wireConfig(cfg)
}

func wireConfig(cfg *config.Config) (*runner.Runner, func(), error) {
	db, err := database.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("close record store: %v", err)
		}
	}

	repo := repository.NewTicketRepository(db, cfg.Store.Driver)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		cleanup()
		return nil, nil, err
	}

	store, err := archive.NewFSStore(cfg.Archive.SpoolDir, cfg.Archive.StorageDir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	dumper, err := audit.NewDumper(cfg.Audit.Dir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	notifier, err := notifications.NewSMTPNotifier(cfg.SMTP,
		log.New(log.Writer(), "[SMTP] ", log.LstdFlags))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	engine := capture.NewWARCEngine(cfg.Capture.Timeout, cfg.Capture.UserAgent,
		log.New(log.Writer(), "[CAPTURE] ", log.LstdFlags))
	manager := ticket.NewManager(repo, store, engine, notifier, dumper,
		cfg.SMTP.ReplyTo, cfg.Runner.Retention,
		log.New(log.Writer(), "[TICKET] ", log.LstdFlags))
	source := intake.NewDirSource(cfg.Intake.Dir,
		log.New(log.Writer(), "[INTAKE] ", log.LstdFlags))
	recorder := webrecorder.NewClient(cfg.Webrecorder.Endpoint, cfg.Webrecorder.Timeout)

	r := runner.New(source, manager, recorder, cfg.Runner.TicketTimeout,
		log.New(log.Writer(), "[RUNNER] ", log.LstdFlags))
	return r, cleanup, nil
}
