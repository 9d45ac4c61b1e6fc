package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

func newPresetsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List detector presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSENSITIVITY\tGAP\tORIGIN")
			for _, p := range sod.Presets() {
				fmt.Fprintf(w, "%s\t%d\t%v\tbuilt-in\n", p.Name, p.Config.Sensitivity, p.Config.OnsetGap)
			}
			if file != "" {
				presets, err := config.LoadPresets(file)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(presets))
				for n := range presets {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					fmt.Fprintf(w, "%s\t%d\t%v\t%s\n", n, presets[n].Sensitivity, presets[n].OnsetGap, file)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "preset-file", "", "Also list presets from a YAML file")
	return cmd
}
