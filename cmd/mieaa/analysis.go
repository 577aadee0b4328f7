package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mohammad-safakhou/mieaa/mieaa"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func enrichmentCMD(cfgPath *string, name string) *cobra.Command {
	var (
		threshold    int
		significance float64
		groupAdjust  bool
		adjustment   string
		asCSV        bool
		asJSON       bool
		reference    *setFlags
	)
	kind := mieaa.AnalysisKind(strings.ToUpper(name))
	short := "Run Over-representation Analysis"
	if kind == mieaa.GSEA {
		short = "Run Gene Set Enrichment Analysis"
	}

	var cmd = &cobra.Command{
		Use:   name + " SPECIES",
		Short: short,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError(cmd, "exactly one species is required")
			}
			if !slices.Contains(mieaa.Species, args[0]) {
				return usageError(cmd, "invalid species %q (choose from %s)", args[0], strings.Join(mieaa.Species, ", "))
			}
			return nil
		},
	}
	mirnas := bindSet(cmd, "m", "mirna-set", "miRNA/precursor target set")
	categories := bindSet(cmd, "c", "categories", "set of categories to include in analysis")
	precursor := entityFlag(cmd)
	out := bindOutput(cmd)
	cmd.Flags().IntVarP(&threshold, "threshold", "t", 2, "filter out subcategories that contain less than this many miRNAs/precursors")
	cmd.Flags().Float64VarP(&significance, "significance", "s", 0.05, "significance level")
	cmd.Flags().BoolVarP(&groupAdjust, "group-adjust", "g", false, "adjust p-values over aggregated groups (by default each group is adjusted independently)")
	cmd.Flags().StringVarP(&adjustment, "adjustment", "a", "fdr", "p-value adjustment method ("+strings.Join(mieaa.PValueAdjustments, ", ")+")")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "store results in output file in csv format (default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "store results in output file in json format")
	if kind == mieaa.ORA {
		reference = bindSet(cmd, "r", "reference-set", "(optional) set of background miRNAs/precursors")
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := mirnas.check(cmd, true); err != nil {
			return err
		}
		if err := categories.check(cmd, true); err != nil {
			return err
		}
		if reference != nil {
			if err := reference.check(cmd, false); err != nil {
				return err
			}
		}
		if asCSV && asJSON {
			return usageError(cmd, "argument `--csv` not allowed with argument `--json`")
		}
		if !slices.Contains(mieaa.PValueAdjustments, adjustment) {
			return usageError(cmd, "invalid adjustment %q (choose from %s)", adjustment, strings.Join(mieaa.PValueAdjustments, ", "))
		}
		format := mieaa.CSV
		if asJSON {
			format = mieaa.JSON
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, *cfgPath)
		if err != nil {
			return err
		}
		defer a.close()

		testSet, closer, err := mirnas.stream()
		if err != nil {
			return err
		}
		defer closer.Close()
		cats, err := categories.lines()
		if err != nil {
			return err
		}
		var ref mieaa.Input
		if reference != nil && reference.given() {
			if ref, err = reference.lines(); err != nil {
				return err
			}
		}

		sub, err := a.session.Submit(ctx, mieaa.AnalysisRequest{
			Kind:         kind,
			TestSet:      testSet,
			Categories:   cats,
			EntityType:   entity(*precursor),
			Species:      args[0],
			ReferenceSet: ref,
			Options: &mieaa.AnalysisOptions{
				PValueAdjustment:   adjustment,
				IndependentPAdjust: !groupAdjust,
				SignificanceLevel:  significance,
				ThresholdLevel:     threshold,
			},
		})
		if err != nil {
			return err
		}
		if !sub.HasJob() {
			return fmt.Errorf("service accepted the analysis without a job id (status %d): %s", sub.StatusCode, sub.Raw)
		}
		a.log.Info("waiting for results", zap.String("job_id", sub.JobID))

		if out.outfile == "" {
			res, err := a.session.Results(ctx, mieaa.JSON, mieaa.ResultOptions{})
			if err != nil {
				return err
			}
			out.print(cmd, res.Text())
			return nil
		}

		sink, err := out.sink()
		if err != nil {
			return err
		}
		defer sink.Close()
		res, err := a.session.SaveResults(ctx, sink, format, mieaa.ResultOptions{})
		if err != nil {
			return err
		}
		out.print(cmd, res.Text())
		return nil
	}
	return cmd
}
