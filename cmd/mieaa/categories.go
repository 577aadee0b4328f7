package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/mohammad-safakhou/mieaa/mieaa"
	"github.com/spf13/cobra"
)

func categoriesCMD(cfgPath *string) *cobra.Command {
	var withSuffix bool
	var cmd = &cobra.Command{
		Use:   "categories SPECIES",
		Short: "List the enrichment categories offered for a species",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || !slices.Contains(mieaa.Species, args[0]) {
				return usageError(cmd, "one species is required (choose from %s)", strings.Join(mieaa.Species, ", "))
			}
			return nil
		},
	}
	precursor := entityFlag(cmd)
	cmd.Flags().BoolVar(&withSuffix, "with-suffix", false, "keep the _mature/_precursor suffix in names")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), *cfgPath)
		if err != nil {
			return err
		}
		defer a.close()

		cats, err := a.session.ListCategories(cmd.Context(), entity(*precursor), args[0], withSuffix)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(cats))
		for name := range cats {
			names = append(names, name)
		}
		slices.Sort(names)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%s\n", name, cats[name])
		}
		return w.Flush()
	}
	return cmd
}
