package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yourusername/lightning-gifts/config"
	"github.com/yourusername/lightning-gifts/middleware"
	"github.com/yourusername/lightning-gifts/utils"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "lightning-gifts",
		Short:         "Lightning gifts API server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional config file (yaml, json, toml or env)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	config.SetupLogging(cfg)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the reconciliation poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			db, err := config.InitDB(cfg)
			if err != nil {
				return err
			}

			processor := utils.NewLNPayClient(cfg.LNPayAPIURL, cfg.LNPayKey, cfg.LNPayWalletKey, cfg.ProcessorTimeout)
			a := newApp(cfg, db, processor)
			defer a.notifier.Wait()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.poller.Start(ctx)

			server := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           newRouter(a),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Infof("Starting lightning gifts API server on port %s", cfg.Port)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("failed to start server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				log.Info("shutting down")
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := config.InitDB(cfg); err != nil {
				return err
			}
			log.Info("database schema up to date")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass against the processor and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			db, err := config.InitDB(cfg)
			if err != nil {
				return err
			}

			processor := utils.NewLNPayClient(cfg.LNPayAPIURL, cfg.LNPayKey, cfg.LNPayWalletKey, cfg.ProcessorTimeout)
			a := newApp(cfg, db, processor)
			defer a.notifier.Wait()

			summary := a.poller.PollOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "withdrawals polled: %d\nsettled: %d\nreverted: %d\nfunded: %d\nstuck: %d\nerrors: %d\n",
				summary.Withdrawals, summary.Settled, summary.Reverted, summary.Funded, summary.Stuck, summary.Errors)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		subject    string
		refreshTTL time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint operator access and refresh tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "" {
				return errors.New("JWT_SECRET and JWT_REFRESH_SECRET must be set")
			}

			access, err := middleware.GenerateToken(subject, middleware.RoleOperator, cfg.JWTSecret, cfg.JWTAccessTTL)
			if err != nil {
				return err
			}
			refresh, err := middleware.GenerateToken(subject, middleware.RoleOperator, cfg.JWTRefreshSecret, refreshTTL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "access_token: %s\nrefresh_token: %s\n", access, refresh)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "operator name recorded in the token")
	cmd.Flags().DurationVar(&refreshTTL, "refresh-ttl", 30*24*time.Hour, "refresh token lifetime")
	return cmd
}
