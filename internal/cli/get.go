package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"
)

var errKeyRequired = errors.New("at least one key required")

// GetCmd returns the get command.
func GetCmd(a *app) *Command {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.BoolP("ignore-case", "i", false, "Fall back to a case-insensitive key match")

	return &Command{
		Flags: fs,
		Usage: "get [flags] <bucket> <key>...",
		Short: "Print records by key",
		Long: `Print each record as "<key>\t<json>". The bucket is built from the
source first if it is missing or damaged. Missing keys are reported as
warnings.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execGet(ctx, io, a, fs, args)
		},
	}
}

func execGet(ctx context.Context, io *IO, a *app, fs *flag.FlagSet, args []string) error {
	if len(args) == 0 {
		return errBucketRequired
	}

	if len(args) == 1 {
		return errKeyRequired
	}

	ignoreCase, _ := fs.GetBool("ignore-case")
	bucket := args[0]

	r, err := a.open(ctx, bucket)
	if err != nil {
		return err
	}

	defer r.Close()

	for _, key := range args[1:] {
		if ignoreCase && !r.Has(key) {
			if k, ok := r.LookupCaseInsensitive(key); ok {
				key = k
			}
		}

		v, found, err := r.Get(key)
		if err != nil {
			return err
		}

		if !found {
			io.Warn(fmt.Sprintf("%s: key %q not found", bucket, key), "check the key, or rebuild the bucket if the source changed")

			continue
		}

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s %q: %w", bucket, key, err)
		}

		io.Printf("%s\t%s\n", key, data)
	}

	return nil
}
