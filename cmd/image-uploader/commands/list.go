package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fly-io/imageuploader/pkg/errors"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored files of an identity tuple",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	addTupleFlags(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	tuple, err := tupleFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	st, err := startStore(cfg, nil)
	if err != nil {
		return err
	}
	defer stopStore(st)

	paths, err := st.Select(cmd.Context(), tuple)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	printPaths(cmd.OutOrStdout(), paths)
	return nil
}

func printPaths(w io.Writer, paths []string) {
	if len(paths) == 0 {
		fmt.Fprintln(w, "No images found")
		return
	}
	for _, p := range paths {
		fmt.Fprintln(w, p)
	}
}
