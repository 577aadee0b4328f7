package main

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/mohammad-safakhou/mieaa/config"
	"github.com/spf13/cobra"
)

func openCMD(cfgPath *string) *cobra.Command {
	var printOnly bool
	var cmd = &cobra.Command{
		Use:   "open [JOB_ID]",
		Short: "Open the miEAA web interface, or the results page of a job",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return usageError(cmd, "at most one job id is accepted")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			target := webURL(cfg.Web.URL, args)
			if printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), target)
				return nil
			}
			if err := openBrowser(target); err != nil {
				return fmt.Errorf("open %s: %w", target, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the url instead of opening it")
	return cmd
}

func webURL(base string, args []string) string {
	base = strings.TrimRight(base, "/") + "/"
	if len(args) == 0 {
		return base
	}
	return base + "results/" + url.PathEscape(args[0]) + "/"
}

func openBrowser(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	return cmd.Start()
}
