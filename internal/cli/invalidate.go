package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

// InvalidateCmd returns the invalidate command.
func InvalidateCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("invalidate", flag.ContinueOnError),
		Usage: "invalidate <bucket>...",
		Short: "Delete cached buckets",
		Long:  "Delete buckets so the next read rebuilds them. Missing buckets are not an error.",
		Exec: func(_ context.Context, io *IO, args []string) error {
			return execInvalidate(io, a, args)
		},
	}
}

func execInvalidate(io *IO, a *app, args []string) error {
	if len(args) == 0 {
		return errBucketRequired
	}

	m, err := a.manager()
	if err != nil {
		return err
	}

	for _, bucket := range args {
		if err := m.Invalidate(bucket); err != nil {
			return err
		}

		io.Println("invalidated", bucket)
	}

	return nil
}
