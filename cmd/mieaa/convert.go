package main

import (
	"io"
	"strings"

	"github.com/mohammad-safakhou/mieaa/mieaa"
	"github.com/spf13/cobra"
)

// styleFlags are the --oneline/--newline/--tabsep output styles.
type styleFlags struct {
	oneline, newline, tabsep bool
}

func bindStyle(cmd *cobra.Command) *styleFlags {
	s := &styleFlags{}
	cmd.Flags().BoolVar(&s.oneline, "oneline", false, "output style: multi-mapped ids are separated by a semicolon (default)")
	cmd.Flags().BoolVar(&s.newline, "newline", false, "output style: multi-mapped ids are separated by a newline")
	cmd.Flags().BoolVar(&s.tabsep, "tabsep", false, "output style: tab-separated `original<TAB>converted` ids")
	cmd.MarkFlagsMutuallyExclusive("oneline", "newline", "tabsep")
	return s
}

func (s *styleFlags) format() string {
	switch {
	case s.newline:
		return "newline"
	case s.tabsep:
		return "tabsep"
	default:
		return "oneline"
	}
}

func typeConverterCMD(cfgPath *string, direction string) *cobra.Command {
	var unique bool
	short := "Convert miRNAs to precursors"
	if direction == "to_mirna" {
		short = "Convert precursors to miRNAs"
	}
	var cmd = &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  noArgs,
	}
	mirnas := bindSet(cmd, "m", "mirna-set", "miRNA/precursor set to convert")
	entityFlag(cmd)
	out := bindOutput(cmd)
	style := bindStyle(cmd)
	cmd.Flags().BoolVarP(&unique, "unique", "u", false, "only output ids that map uniquely")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := mirnas.check(cmd, true); err != nil {
			return err
		}
		opts := &mieaa.ConverterOptions{OutputFormat: style.format(), ConversionType: "all"}
		if unique {
			opts.ConversionType = "unique"
		}
		return convert(cmd, *cfgPath, mirnas, out, func(a *app, ids mieaa.Input, sink io.Writer) ([]string, error) {
			if direction == "to_mirna" {
				return a.session.ToMirna(cmd.Context(), ids, opts, sink)
			}
			return a.session.ToPrecursor(cmd.Context(), ids, opts, sink)
		})
	}
	return cmd
}

func convertMirbaseCMD(cfgPath *string) *cobra.Command {
	var to string
	var cmd = &cobra.Command{
		Use:   "convert_mirbase FROM",
		Short: "Convert miRBase version",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError(cmd, "the miRBase version to convert from is required")
			}
			return nil
		},
	}
	mirnas := bindSet(cmd, "m", "mirna-set", "miRNA/precursor set to convert")
	precursor := entityFlag(cmd)
	out := bindOutput(cmd)
	style := bindStyle(cmd)
	cmd.Flags().StringVar(&to, "to", "22", "miRBase version to convert miRNAs/precursors to")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := mirnas.check(cmd, true); err != nil {
			return err
		}
		format := style.format()
		// The miRBase converter has no newline style.
		if format == "newline" {
			format = "oneline"
		}
		opts := &mieaa.ConverterOptions{OutputFormat: format, ConversionType: "all"}
		return convert(cmd, *cfgPath, mirnas, out, func(a *app, ids mieaa.Input, sink io.Writer) ([]string, error) {
			return a.session.ConvertMirbase(cmd.Context(), ids, args[0], to, entity(*precursor), opts, sink)
		})
	}
	return cmd
}

type converter func(a *app, ids mieaa.Input, sink io.Writer) ([]string, error)

func convert(cmd *cobra.Command, cfgPath string, mirnas *setFlags, out *outputFlags, fn converter) error {
	a, err := newApp(cmd.Context(), cfgPath)
	if err != nil {
		return err
	}
	defer a.close()

	ids, closer, err := mirnas.stream()
	if err != nil {
		return err
	}
	defer closer.Close()

	var sink io.Writer
	w, err := out.sink()
	if err != nil {
		return err
	}
	if w != nil {
		defer w.Close()
		sink = w
	}
	lines, err := fn(a, ids, sink)
	if err != nil {
		return err
	}
	out.print(cmd, strings.Join(lines, "\n"))
	return nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError(cmd, "unrecognized arguments: %s", strings.Join(args, " "))
	}
	return nil
}
