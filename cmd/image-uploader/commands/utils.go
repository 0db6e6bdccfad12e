package commands

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fly-io/imageuploader/internal/config"
	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
	"github.com/fly-io/imageuploader/pkg/security"
	"github.com/fly-io/imageuploader/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, imageRoot, fsmDBPath string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	if imageRoot != "" {
		if err := os.MkdirAll(imageRoot, 0755); err != nil {
			return errors.Wrap(err, "failed to create image root")
		}
	}

	// Create FSM database directory (only needed for export command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}

// startStore opens the metadata database and starts its worker.
func startStore(cfg *config.Config, observer store.Observer) (*store.Store, error) {
	st, err := store.Open(store.Options{
		Path:           cfg.SQLitePath,
		QueueSize:      cfg.QueueSize,
		SelectTimeout:  cfg.SelectTimeout,
		EnqueueTimeout: cfg.EnqueueTimeout,
		Observer:       observer,
	})
	if err != nil {
		return nil, errors.Wrap(err, "store init failed")
	}
	st.Start()
	return st, nil
}

func stopStore(st *store.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return st.Shutdown(ctx)
}

// addTupleFlags registers --organization, --username and --mission on cmd.
func addTupleFlags(cmd *cobra.Command) {
	cmd.Flags().String("organization", "", "Organization of the identity tuple")
	cmd.Flags().String("username", "", "Username of the identity tuple")
	cmd.Flags().String("mission", "", "Mission of the identity tuple")
	cmd.MarkFlagRequired("organization")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("mission")
}

func tupleFromFlags(cmd *cobra.Command, cfg *config.Config) (identity.Tuple, error) {
	org, _ := cmd.Flags().GetString("organization")
	user, _ := cmd.Flags().GetString("username")
	mission, _ := cmd.Flags().GetString("mission")

	resolver := identity.NewResolver(security.NewValidator(cfg.MaxFrameSize, cfg.MaxPixels))
	return resolver.FromFields(org, user, mission)
}
