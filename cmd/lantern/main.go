package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lanternai/lantern/internal/config"
	"github.com/lanternai/lantern/internal/db"
	"github.com/lanternai/lantern/internal/gateway"
	"github.com/lanternai/lantern/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lantern",
	Short: "Lantern - local LLM gateway",
	Long: `Lantern is a local gateway that puts one uniform protocol in front of
multiple LLM providers, with lifecycle hooks, session persistence,
automatic compaction, and a searchable memory store.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := config.NewStore(cfg)

		conn, err := db.Open(cfg.DBPath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer conn.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, err := gateway.New(ctx, store, conn)
		if err != nil {
			return err
		}
		g.Start()
		defer g.Stop()

		if configPath != "" {
			go store.Watch(ctx, configPath)
		}

		srv := &http.Server{
			Addr:    cfg.Listen,
			Handler: g.Router(),
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		logging.Infof("listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := renderYAML(cfg)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

func main() {
	// .env is optional; missing files are fine
	godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.AddCommand(serveCmd, sessionCmd, memoryCmd, configShowCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
