package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report disagreement between recorded and on-disk images of a tuple",
	Long: `Compares the store's records for one identity tuple with the files in its
directory. Records whose file is missing and files with no record are
reported. Nothing is repaired.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	addTupleFlags(verifyCmd)
}

type selector interface {
	Select(ctx context.Context, t identity.Tuple) ([]string, error)
}

// verifyReport lists what disagrees between the store and the disk.
type verifyReport struct {
	Recorded   int
	Missing    []string
	Unrecorded []string
}

func (r *verifyReport) consistent() bool {
	return len(r.Missing) == 0 && len(r.Unrecorded) == 0
}

func runVerify(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	tuple, err := tupleFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	st, err := startStore(cfg, nil)
	if err != nil {
		return err
	}
	defer stopStore(st)

	report, err := verifyTuple(cmd.Context(), st, cfg.ImageRoot, tuple)
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), tuple, report)
	if !report.consistent() {
		return fmt.Errorf("%s: %d missing, %d unrecorded", tuple, len(report.Missing), len(report.Unrecorded))
	}
	return nil
}

func verifyTuple(ctx context.Context, st selector, root string, tuple identity.Tuple) (*verifyReport, error) {
	paths, err := st.Select(ctx, tuple)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select images")
	}

	report := &verifyReport{Recorded: len(paths)}
	recorded := make(map[string]bool, len(paths))
	for _, p := range paths {
		recorded[filepath.Clean(p)] = true
		if _, err := os.Stat(p); os.IsNotExist(err) {
			report.Missing = append(report.Missing, p)
		} else if err != nil {
			return nil, errors.Wrap(err, "failed to stat image")
		}
	}

	dir := tuple.Dir(root)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read image directory")
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if !recorded[filepath.Clean(p)] {
			report.Unrecorded = append(report.Unrecorded, p)
		}
	}

	return report, nil
}

func printReport(w io.Writer, tuple identity.Tuple, r *verifyReport) {
	fmt.Fprintf(w, "%s: %d recorded\n", tuple, r.Recorded)
	for _, p := range r.Missing {
		fmt.Fprintf(w, "missing    %s\n", p)
	}
	for _, p := range r.Unrecorded {
		fmt.Fprintf(w, "unrecorded %s\n", p)
	}
	if r.consistent() {
		fmt.Fprintln(w, "consistent")
	}
}
