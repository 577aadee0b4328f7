package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := rootCMD()
	root.SetArgs(expandSetArgs(args))
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, color.RedString("Error: %v", err))
		return 1
	}
	return 0
}

func rootCMD() *cobra.Command {
	var cfgPath string
	var root = &cobra.Command{
		Use:           "mieaa",
		Short:         "miEAA command line tool",
		Long:          "Convert miRNA identifiers and run enrichment analyses with the miEAA web service.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetGlobalNormalizationFunc(flagAliases)
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default searches ./config, . and ~/.mieaa)")

	root.AddCommand(
		enrichmentCMD(&cfgPath, "ora"),
		enrichmentCMD(&cfgPath, "gsea"),
		typeConverterCMD(&cfgPath, "to_precursor"),
		typeConverterCMD(&cfgPath, "to_mirna"),
		convertMirbaseCMD(&cfgPath),
		categoriesCMD(&cfgPath),
		openCMD(&cfgPath),
		emulateCMD(&cfgPath),
	)
	return root
}

// usageError marks argument problems; the command's usage is printed with it.
func usageError(cmd *cobra.Command, format string, args ...any) error {
	cmd.SetOut(cmd.ErrOrStderr())
	_ = cmd.Usage()
	return fmt.Errorf(format, args...)
}
