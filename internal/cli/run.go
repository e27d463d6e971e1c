package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/p4swarm/recordcache/internal/config"
	"github.com/p4swarm/recordcache/pkg/arraycache"
)

// Run is the main entry point. Returns exit code.
//
// A signal on sigCh cancels the running command; sigCh may be nil.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	fs := flag.NewFlagSet("recordcache", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(&strings.Builder{})

	workDir := fs.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := fs.StringP("config", "c", "", "Use specified config `file`")
	cacheDir := fs.String("cache-dir", "", "Cache `dir` (overrides config)")
	sourcePath := fs.String("source", "", "Record fixture `file` (overrides config)")
	noCache := fs.Bool("no-cache", false, "Query the source directly, bypassing the cache")
	verbose := fs.BoolP("verbose", "v", false, "Log cache activity to stderr")
	timeout := fs.Duration("timeout", 0, "Abort after this long; rebuilds pause the clock")
	help := fs.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	if err := fs.Parse(args); err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, fs)

		return 1
	}

	rest := fs.Args()
	if *help || len(rest) == 0 {
		printUsage(out, fs)

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride:  *workDir,
		ConfigPath:       *configPath,
		CacheDirOverride: *cacheDir,
		SourceOverride:   *sourcePath,
		Env:              env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	a := &app{
		cfg:     cfg,
		log:     slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})),
		stdin:   stdin,
		noCache: *noCache,
	}

	if *timeout > 0 {
		var wd *arraycache.Watchdog

		ctx, wd = arraycache.NewWatchdog(ctx, *timeout)
		defer wd.Stop()

		a.limit = wd
	}

	return a.dispatch(ctx, NewIO(out, errOut), rest)
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, global *flag.FlagSet) {
	fprintln(w, `recordcache - keyed record cache for Perforce groups, users and projects

Usage: recordcache [options] <command> [args]`)

	if global != nil {
		var buf strings.Builder

		global.SetOutput(&buf)
		global.PrintDefaults()
		fprintln(w)
		fprintln(w, "Options:")
		_, _ = io.WriteString(w, buf.String())
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands(nil) {
		fprintln(w, c.HelpLine())
	}
}
