package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/forolabs/peticionador/api"
	"github.com/forolabs/peticionador/session"
)

var (
	listenAddr  string
	idleTimeout time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the control API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		inf, err := buildInfra(ctx)
		if err != nil {
			return err
		}
		defer inf.close()

		// With Redis, session records survive restarts and persistent
		// browsers get reattached on boot.
		var sessionRepo session.Repository = session.NewMemoryRepository()
		if inf.rdb != nil {
			sessionRepo = session.NewRedisRepository(inf.rdb)
		}
		sessions := session.NewManager(sessionRepo, inf.bus, session.Config{
			IdleTimeout: idleTimeout,
		})
		go sessions.Run(ctx)

		a := api.New(sessions, inf.creds, inf.jobs, inf.solver)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              listenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting control API on %s...\n", listenAddr)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			cancel()
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listenAddr, "listen", "l", "127.0.0.1:8800", "Address to listen on")
	serverCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 30*time.Minute, "Evict sessions idle for this long")
	addInfraFlags(serverCmd)
}
