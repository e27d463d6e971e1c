package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar"
	flag "github.com/spf13/pflag"
)

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.StringP("match", "m", "", "Only keys matching this glob (** allowed)")
	fs.Int("limit", 0, "Maximum keys to show (0 = all)")
	fs.Bool("values", false, "Print values as JSON next to keys")

	return &Command{
		Flags: fs,
		Usage: "ls [flags] <bucket>",
		Short: "List keys of a bucket",
		Long:  "List the keys of a bucket in write order, building it first if needed.",
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execLs(ctx, io, a, fs, args)
		},
	}
}

func execLs(ctx context.Context, io *IO, a *app, fs *flag.FlagSet, args []string) error {
	if len(args) == 0 {
		return errBucketRequired
	}

	match, _ := fs.GetString("match")
	withValues, _ := fs.GetBool("values")

	limit, _ := fs.GetInt("limit")
	if limit < 0 {
		return errors.New("--limit must be non-negative")
	}

	if match != "" {
		if _, err := doublestar.Match(match, ""); err != nil {
			return fmt.Errorf("--match %q: %w", match, err)
		}
	}

	r, err := a.open(ctx, args[0])
	if err != nil {
		return err
	}

	defer r.Close()

	shown := 0

	keep := func(key string) (bool, error) {
		if match == "" {
			return true, nil
		}

		return doublestar.Match(match, key)
	}

	if !withValues {
		for _, key := range r.Keys() {
			ok, err := keep(key)
			if err != nil {
				return err
			}

			if !ok {
				continue
			}

			io.Println(key)

			shown++
			if limit > 0 && shown >= limit {
				break
			}
		}

		return nil
	}

	it := r.Iter()
	for it.Next() {
		ok, err := keep(it.Key())
		if err != nil {
			return err
		}

		if !ok {
			continue
		}

		data, err := json.Marshal(it.Value())
		if err != nil {
			return fmt.Errorf("%q: %w", it.Key(), err)
		}

		io.Printf("%s\t%s\n", it.Key(), data)

		shown++
		if limit > 0 && shown >= limit {
			break
		}
	}

	return it.Err()
}
