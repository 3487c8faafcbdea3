package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/chatd/internal/agent"
	"github.com/comigor/chatd/internal/config"
	"github.com/comigor/chatd/internal/history"
	"github.com/comigor/chatd/internal/llm"
	"github.com/comigor/chatd/internal/logger"
	"github.com/comigor/chatd/internal/mcpserver"
	"github.com/comigor/chatd/internal/server"
)

const shutdownTimeout = 10 * time.Second

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "chatd",
	Short:         "Conversational session engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP chat API",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve read-only chat tools over MCP stdio",
	Long: `Serve chat search and transcript lookup as MCP tools on stdin/stdout.

Logs go to stderr so they never mix with protocol traffic.`,
	RunE: runMCP,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $CONFIG_PATH or ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.L.Error("chatd failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// openAgent loads config and wires the store, inference client and engine.
func openAgent() (*agent.Agent, *history.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)

	store, err := history.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return agent.New(llm.NewClient(cfg.LLM), store, *cfg), store, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, store, cfg, err := openAgent()
	if err != nil {
		return err
	}
	defer store.Close()

	e := server.New(a)
	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L.Info("starting server", "address", addr, "model", cfg.LLM.Model, "database", cfg.Database.Path)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.L.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMCP(cmd *cobra.Command, args []string) error {
	logger.SetOutput(os.Stderr)

	a, store, _, err := openAgent()
	if err != nil {
		return err
	}
	defer store.Close()

	logger.L.Info("serving MCP tools on stdio")
	return mcpserver.Serve(mcpserver.New(a))
}
