package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/superfly/fsm"

	"github.com/fly-io/imageuploader/internal/config"
	"github.com/fly-io/imageuploader/pkg/errors"
	appfsm "github.com/fly-io/imageuploader/pkg/fsm"
	"github.com/fly-io/imageuploader/pkg/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Copy an identity tuple's stored images to S3",
	Long: `Runs the export workflow (select, upload, complete) for one identity tuple.
Objects are written as <organization>/<username>/<mission>/<file>; keys that
already exist in the bucket are skipped.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	addTupleFlags(exportCmd)
	exportCmd.Flags().String("s3-bucket", "", "Destination S3 bucket")
	exportCmd.Flags().String("s3-region", "us-east-1", "S3 region")
	exportCmd.Flags().String("s3-endpoint", "", "S3-compatible endpoint URL")
	exportCmd.Flags().Bool("s3-anonymous", false, "Send unsigned requests (public or local S3-compatible buckets)")
	exportCmd.Flags().String("fsm-db-path", ".artifacts/fsm", "FSM state directory")
	exportCmd.Flags().Int("fsm-max-retries", 5, "Attempts per workflow state")

	for _, name := range []string{"s3-bucket", "s3-region", "s3-endpoint", "s3-anonymous", "fsm-db-path", "fsm-max-retries"} {
		viper.BindPFlag(name, exportCmd.Flags().Lookup(name))
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.ValidateExport(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	tuple, err := tupleFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	// Ensure all necessary directories exist
	if err := ensureDirectories(cfg.SQLitePath, "", cfg.FSMDBPath); err != nil {
		return err
	}

	st, err := startStore(cfg, nil)
	if err != nil {
		return err
	}
	defer stopStore(st)

	s3Client, err := storage.NewClient(ctx, storageOptions(cfg))
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	out := cmd.OutOrStdout()
	machine := appfsm.NewMachine(st, s3Client, cfg.FSMMaxRetries, func(req appfsm.ExportRequest, resp appfsm.ExportResponse) {
		fmt.Fprintf(out, "%s -> s3://%s: %s, %d uploaded, %d already present\n",
			req.Tuple, req.Bucket, resp.Status, len(resp.Uploaded), len(resp.Skipped))
	})
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	req := &appfsm.ExportRequest{
		Tuple:  tuple,
		Bucket: cfg.S3Bucket,
	}
	resp := &appfsm.ExportResponse{}

	runID := uuid.NewString()
	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm_started", "run_id", runID, "version", version, "identity", tuple.String())

	if err := manager.Wait(ctx, version); err != nil {
		return errors.Wrap(err, "FSM execution failed")
	}

	slog.Info("export_completed", "run_id", runID, "identity", tuple.String())

	return nil
}

func storageOptions(c *config.Config) storage.Options {
	return storage.Options{
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		Endpoint:  c.S3Endpoint,
		Anonymous: c.S3Anonymous,
	}
}
