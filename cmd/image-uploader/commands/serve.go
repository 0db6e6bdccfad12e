package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/metrics"
	"github.com/fly-io/imageuploader/pkg/security"
	"github.com/fly-io/imageuploader/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve [port]",
	Short: "Run the upload and download server",
	Long: `Serves GET /upload/ws, /download, /download/ws, /healthz and /metrics.
A port argument overrides --listen-addr.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().String("upload-identity", "query", "Where uploads carry their identity: query or frame")
	serveCmd.Flags().Int64("max-frame-size", 64*1024*1024, "Largest accepted frame in bytes")
	serveCmd.Flags().Int64("max-pixels", security.DefaultMaxPixels, "Largest accepted image area (width*height)")
	serveCmd.Flags().StringSlice("cors-origins", nil, "Origins allowed to make cross-origin requests")

	for _, name := range []string{"listen-addr", "upload-identity", "max-frame-size", "max-pixels", "cors-origins"} {
		viper.BindPFlag(name, serveCmd.Flags().Lookup(name))
	}
}

func listenAddr(args []string) (string, error) {
	if len(args) == 0 {
		return cfg.ListenAddr, nil
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		return "", errors.New("port must be a number between 1 and 65535")
	}
	return ":" + args[0], nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	addr, err := listenAddr(args)
	if err != nil {
		return err
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.ImageRoot, ""); err != nil {
		return err
	}

	m, err := metrics.New("", nil)
	if err != nil {
		return errors.Wrap(err, "metrics init failed")
	}

	st, err := startStore(cfg, m)
	if err != nil {
		return err
	}

	srv := server.New(st, server.Options{
		ImageRoot:      cfg.ImageRoot,
		UploadIdentity: cfg.UploadIdentity,
		MaxFrameSize:   cfg.MaxFrameSize,
		MaxPixels:      cfg.MaxPixels,
		CORSOrigins:    cfg.CORSOrigins,
		Observer:       m,
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server_listening", "addr", addr, "image_root", cfg.ImageRoot, "upload_identity", cfg.UploadIdentity)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})

	g.Go(func() error {
		var workerLost bool
		select {
		case <-gctx.Done():
			slog.Info("server_shutdown_requested")
		case <-st.Done():
			// The worker exited without taking the process down, e.g. a
			// contract violation handled by a non-panicking hook.
			slog.Error("store_worker_stopped")
			workerLost = true
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http_shutdown_failed", "error", err)
		}
		if err := st.Shutdown(shutdownCtx); err != nil {
			slog.Error("store_shutdown_failed", "error", err)
		}
		if workerLost {
			return errors.ErrStoreUnavailable
		}
		slog.Info("server_stopped")
		return nil
	})

	return g.Wait()
}
