package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/docindex"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Generate or check the detector's navigation tables",
	}
	cmd.AddCommand(newDocsGenCmd(), newDocsValidateCmd())
	return cmd
}

func newDocsGenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Write the macros and results tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			set := docindex.Generated()
			if err := set.Validate(); err != nil {
				return err
			}
			for _, name := range set.Names() {
				path := filepath.Join(out, name+".js")
				if err := writeTable(path, set[name]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d entries)\n", path, len(set[name].Entries))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", ".", "Output directory")
	return cmd
}

func writeTable(path string, t *docindex.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newDocsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PATH...",
		Short: "Check tables for empty fields, duplicate anchors and dangling children",
		Long: `Validates each file or directory of *.js tables. A child reference from a
single file resolves to a sibling file named after the child.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, path := range args {
				n, err := validatePath(path)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d table(s) valid\n", path, n)
			}
			return errors.Join(errs...)
		},
	}
}

func validatePath(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		set, err := docindex.LoadDir(path)
		if err != nil {
			return 0, err
		}
		if len(set) == 0 {
			return 0, errors.New("no *.js tables found")
		}
		return len(set), set.Validate()
	}

	t, err := docindex.ParseFile(path)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(path)
	return 1, t.Validate(func(child string) bool {
		_, err := os.Stat(filepath.Join(dir, child+".js"))
		return err == nil
	})
}
