package cli

import (
	"context"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/p4swarm/recordcache/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(a *app) *Command {
	fs := flag.NewFlagSet("print-config", flag.ContinueOnError)
	fs.Bool("json", false, "Print as a config file")

	return &Command{
		Flags: fs,
		Usage: "print-config [--json]",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			asJSON, _ := fs.GetBool("json")

			return execPrintConfig(io, a.cfg, asJSON)
		},
	}
}

func execPrintConfig(io *IO, cfg config.Config, asJSON bool) error {
	if asJSON {
		out, err := config.Format(cfg)
		if err != nil {
			return err
		}

		io.Println(out)

		return nil
	}

	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("cache_dir=" + cfg.CacheDirAbs)

	if cfg.SourceAbs != "" {
		io.Println("source=" + cfg.SourceAbs)
	}

	if cfg.RebuildTimeout > 0 {
		io.Println("rebuild_timeout=" + cfg.RebuildTimeout.String())
	}

	io.Println("fallback_on_cache_error=" + strconv.FormatBool(cfg.FallbackOnCacheError))
	io.Println("case_insensitive_users=" + strconv.FormatBool(cfg.CaseInsensitiveUsers))

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			io.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			io.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}
