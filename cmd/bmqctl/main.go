// Command bmqctl drives a bmqsched simulation from the command line:
// subcommands for running a scheduler instance, inspecting its resolved
// configuration, and reporting its version.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fideoman/bmqsched/internal/config"
	"github.com/fideoman/bmqsched/internal/obslog"
	"github.com/fideoman/bmqsched/pkg/scheduler"
)

var (
	version   = "dev"
	cfgFile   string
	listenAddr string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bmqctl",
		Short: "bmqsched simulation control plane",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to bmqsched.yaml")
	root.AddCommand(newRunCmd(), newInspectCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a scheduler instance until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":9090", "address to serve /metrics on")
	return cmd
}

func runScheduler(ctx context.Context) error {
	log := obslog.For("bmqctl")

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sched, err := scheduler.NewScheduler(cfg, scheduler.NoopSwitcher{})
	if err != nil {
		return fmt.Errorf("construct scheduler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(sched.Metrics().Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Int("num_cpus", sched.NumCPUs()).Str("listen", listenAddr).Msg("bmqsched running")

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Start(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("scheduler exited with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return sched.Shutdown(shutdownCtx)
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "print the resolved configuration as YAML and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the scheduler banner and version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("BMQ-Go CPU Scheduler %s (bmqctl)\n", version)
		},
	}
}
