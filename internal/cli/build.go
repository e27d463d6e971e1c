package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/p4swarm/recordcache/pkg/arraycache"
)

// BuildCmd returns the build command.
func BuildCmd(a *app) *Command {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.Bool("all", false, "Build every bucket defined in the source")

	return &Command{
		Flags: fs,
		Usage: "build [--all] <bucket>...",
		Short: "Rebuild buckets from the source",
		Long: `Rebuild buckets from the source, replacing what is cached. A bucket
another process is already rebuilding is skipped with a warning.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execBuild(ctx, io, a, fs, args)
		},
	}
}

func execBuild(ctx context.Context, io *IO, a *app, fs *flag.FlagSet, args []string) error {
	all, _ := fs.GetBool("all")

	src, err := a.source()
	if err != nil {
		return err
	}

	buckets := args
	if all {
		if len(args) > 0 {
			return errors.New("--all cannot be combined with bucket names")
		}

		buckets, err = src.Buckets()
		if err != nil {
			return err
		}
	}

	if len(buckets) == 0 {
		return errBucketRequired
	}

	m, err := a.manager()
	if err != nil {
		return err
	}

	for _, bucket := range buckets {
		start := time.Now()

		n, err := m.Rebuild(ctx, bucket, src.Bucket(bucket).Enumerate)
		if errors.Is(err, arraycache.ErrLockBusy) {
			io.Warn(fmt.Sprintf("%s: another process is rebuilding it", bucket), "wait for it to finish; readers will see its result")

			continue
		}

		if err != nil {
			return err
		}

		io.Printf("built %s: %d elements in %s\n", bucket, n, time.Since(start).Round(time.Millisecond))
	}

	return nil
}
