package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fly-io/imageuploader/internal/config"
	"github.com/fly-io/imageuploader/internal/logging"
	"github.com/fly-io/imageuploader/pkg/errors"
)

var (
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "image-uploader",
	Short: "Image ingestion and retrieval over WebSocket",
	Long: `Accepts image frames over WebSocket, normalizes them to PNG, stores them under
images/<organization>/<username>/<mission>/ and records them in SQLite.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("image-root", "images", "Directory holding stored images")
	rootCmd.PersistentFlags().String("sqlite-path", "images.db", "SQLite database path")
	rootCmd.PersistentFlags().Int("queue-size", 1024, "Store worker queue capacity")
	rootCmd.PersistentFlags().Duration("select-timeout", 10*time.Second, "How long a lookup waits for the store worker")
	rootCmd.PersistentFlags().Duration("enqueue-timeout", 5*time.Second, "How long a request waits for queue space")
	rootCmd.PersistentFlags().String("log-dir", "logs", "Directory for the rotating log file (empty disables)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")

	for _, name := range []string{"image-root", "sqlite-path", "queue-size", "select-timeout", "enqueue-timeout", "log-dir", "log-level"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	logCloser, err = logging.Setup(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel})
	if err != nil {
		return errors.Wrap(err, "logging setup failed")
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}
