package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gymsync/syncd/internal/authority"
	"github.com/gymsync/syncd/internal/authtoken"
	"github.com/gymsync/syncd/internal/config"
	"github.com/gymsync/syncd/internal/logger"
	"github.com/gymsync/syncd/internal/matchmaker"
	"github.com/gymsync/syncd/internal/metrics"
	"github.com/gymsync/syncd/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "syncd",
		Short: "gym sync matchmaking/session authority",
	}
	root.AddCommand(serveCmd(), keygenCmd(), inspectExportCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the matchmaking/session authority server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dbPath, _ := cmd.Flags().GetString("db")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			watcher, stopWatch, err := config.NewWatcher(configPath, func(cfg *config.SyncConfig) {
				logger.Info("syncd: config reloaded", "path", configPath)
			})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			defer stopWatch()
			cfg := watcher.Current()

			if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			signKey, err := authtoken.ParseKeyFromEnv(os.Getenv("SYNCD_JWT_KEY"))
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			m := metrics.New(reg)

			var strategy matchmaker.Strategy
			if cfg.MaxServerRTTms != nil {
				strategy = matchmaker.LatencyAware{RequiredPlayers: cfg.RequiredPlayers, MaxServerRTTms: *cfg.MaxServerRTTms}
			} else {
				strategy = matchmaker.FIFO{RequiredPlayers: cfg.RequiredPlayers}
			}

			authSrv := authority.New(cfg, strategy, st, m, signKey, logger.Log)

			httpSrv := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: authSrv,
			}

			var metricsSrv *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					logger.Info("syncd: metrics listening", "addr", metricsAddr)
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("syncd: metrics server failed", "err", err)
					}
				}()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("syncd: listening", "addr", cfg.ListenAddr)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("syncd: shutting down")
				if metricsSrv != nil {
					_ = metricsSrv.Close()
				}
				return httpSrv.Close()
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().String("config", "sync.yaml", "path to the operator config file")
	cmd.Flags().String("db", "syncd.db", "session-history database path")
	cmd.Flags().String("metrics-addr", ":9090", "Prometheus /metrics listen address (empty disables)")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a P-256 signing key for session-assignment JWTs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, encoded, err := authtoken.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(encoded)
			fmt.Fprintln(os.Stderr, "export SYNCD_JWT_KEY='"+encoded+"' before running syncd serve")
			return nil
		},
	}
}

func inspectExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-export <path>",
		Short: "print the header and row count of an episode CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			r := csv.NewReader(f)
			header, err := r.Read()
			if err != nil {
				return fmt.Errorf("read header: %w", err)
			}
			fmt.Println("columns:", strings.Join(header, ", "))

			rows := 0
			for {
				_, err := r.Read()
				if err != nil {
					break
				}
				rows++
			}
			fmt.Println("rows:", rows)
			return nil
		},
	}
}
