package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/mieaa/config"
	"github.com/mohammad-safakhou/mieaa/internal/logger"
	"github.com/mohammad-safakhou/mieaa/internal/telemetry"
	"github.com/mohammad-safakhou/mieaa/mieaa"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// app is what every subcommand needs: configuration, logging, telemetry and
// a session against the configured service.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	tel     *telemetry.Telemetry
	session *mieaa.Session
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{ServiceName: "mieaa", ServiceVersion: version})
	if err != nil {
		return nil, err
	}
	opts := mieaa.OptionsFromConfig(cfg)
	opts.Logger = log
	opts.Registerer = tel.Registry
	session, err := mieaa.NewSession(opts)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, tel: tel, session: session}, nil
}

func (a *app) close() {
	a.session.Invalidate()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.log.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.log.Sync()
}

// setFlags binds an inline-set flag and its file counterpart, e.g. -m/-M.
type setFlags struct {
	letter string
	items  []string
	file   string
}

func bindSet(cmd *cobra.Command, letter, name, usage string) *setFlags {
	s := &setFlags{letter: letter}
	upper := strings.ToUpper(letter)
	cmd.Flags().StringSliceVarP(&s.items, name, letter, nil, usage)
	cmd.Flags().StringVarP(&s.file, name+"-file", upper, "", "file with one entry per line, instead of -"+letter)
	return s
}

// setFlagNames are the set flags that take every following bare word, as in
// "-m hsa-miR-21-5p hsa-miR-199a-5p".
var setFlagNames = map[string]bool{
	"-m": true, "--mirna-set": true,
	"-c": true, "--categories": true,
	"-r": true, "--reference-set": true,
}

// expandSetArgs repeats a set flag for every further bare word that follows
// it, so pflag sees one value per occurrence. Words after "--" stay
// positional.
func expandSetArgs(args []string) []string {
	out := make([]string, 0, len(args))
	flag := ""       // set flag collecting bare words
	pending := false // flag still waits for its own value
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			flag, pending = "", false
			name, _, inline := strings.Cut(arg, "=")
			if !inline && !strings.HasPrefix(arg, "--") && len(arg) > 2 {
				name, inline = arg[:2], true
			}
			if setFlagNames[name] {
				flag, pending = name, !inline
			}
			out = append(out, arg)
			continue
		}
		switch {
		case pending:
			out = append(out, arg)
			pending = false
		case flag != "":
			out = append(out, flag, arg)
		default:
			out = append(out, arg)
		}
	}
	return out
}

// check mirrors the either-or rule of a set and its file.
func (s *setFlags) check(cmd *cobra.Command, required bool) error {
	upper := strings.ToUpper(s.letter)
	switch {
	case len(s.items) > 0 && s.file != "":
		return usageError(cmd, "argument `-%s` not allowed with argument `-%s`", s.letter, upper)
	case required && len(s.items) == 0 && s.file == "":
		return usageError(cmd, "one of the arguments `-%s` or `-%s` is required", s.letter, upper)
	}
	return nil
}

func (s *setFlags) given() bool { return len(s.items) > 0 || s.file != "" }

// stream opens the file as a stream input, to be uploaded or read by the
// session. The caller closes the returned file.
func (s *setFlags) stream() (mieaa.Input, io.Closer, error) {
	if s.file == "" {
		return mieaa.List(s.items...), io.NopCloser(nil), nil
	}
	f, err := os.Open(s.file)
	if err != nil {
		return mieaa.Input{}, nil, err
	}
	return mieaa.Stream(s.file, f), f, nil
}

// lines reads the file into an inline list, one entry per line.
func (s *setFlags) lines() (mieaa.Input, error) {
	if s.file == "" {
		return mieaa.List(s.items...), nil
	}
	b, err := os.ReadFile(s.file)
	if err != nil {
		return mieaa.Input{}, err
	}
	var items []string
	for _, line := range strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}
	return mieaa.List(items...), nil
}

// outputFlags are shared by every command that produces a result.
type outputFlags struct {
	outfile string
	verbose bool
}

func bindOutput(cmd *cobra.Command) *outputFlags {
	o := &outputFlags{}
	cmd.Flags().StringVarP(&o.outfile, "outfile", "o", "", "save results to provided file")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "always print results to stdout")
	return o
}

// sink returns the outfile, or nil when results only go to stdout.
func (o *outputFlags) sink() (io.WriteCloser, error) {
	if o.outfile == "" {
		return nil, nil
	}
	f, err := os.Create(o.outfile)
	if err != nil {
		return nil, fmt.Errorf("open outfile: %w", err)
	}
	return f, nil
}

func (o *outputFlags) print(cmd *cobra.Command, text string) {
	if o.outfile != "" && !o.verbose {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(out)
	}
}

func entityFlag(cmd *cobra.Command) *bool {
	var precursor bool
	cmd.Flags().BoolVarP(&precursor, "precursor", "p", false, "use if running on a set of precursors as opposed to miRNAs")
	return &precursor
}

// flagAliases accepts the long spellings some flags are also known by.
func flagAliases(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "precursors":
		name = "precursor"
	case "alpha":
		name = "significance"
	}
	return pflag.NormalizedName(name)
}

func entity(precursor bool) mieaa.EntityType {
	if precursor {
		return mieaa.Precursor
	}
	return mieaa.Mature
}
