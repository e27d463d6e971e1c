package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/p4swarm/recordcache/pkg/arraycache"
)

// InfoCmd returns the info command.
func InfoCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("info", flag.ContinueOnError),
		Usage: "info [bucket]",
		Short: "Show cached buckets",
		Long: `Without arguments, list every bucket in the cache directory. With a
bucket name, show its details. Nothing is built.`,
		Exec: func(_ context.Context, io *IO, args []string) error {
			return execInfo(io, a, args)
		},
	}
}

func execInfo(io *IO, a *app, args []string) error {
	m, err := a.manager()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		info, err := m.Stat(args[0])
		if err != nil {
			return err
		}

		path, _ := m.Path(info.Name)

		io.Printf("Bucket:      %s\n", info.Name)
		io.Printf("  Path:      %s\n", path)
		io.Printf("  Ready:     %v\n", info.Ready)
		io.Printf("  Elements:  %d\n", info.Elements)
		io.Printf("  Data:      %s\n", humanize.Bytes(uint64(info.DataSize)))
		io.Printf("  Index:     %s\n", humanize.Bytes(uint64(info.IndexSize)))
		io.Printf("  Modified:  %s (%s)\n", info.ModTime.Format(time.RFC3339), humanize.Time(info.ModTime))

		return nil
	}

	buckets, err := m.Buckets()
	if err != nil {
		return err
	}

	if len(buckets) == 0 {
		io.Println("(no buckets in " + m.Dir() + ")")

		return nil
	}

	tw := tabwriter.NewWriter(io.Out(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BUCKET\tREADY\tELEMENTS\tDATA\tINDEX\tMODIFIED")

	for _, b := range buckets {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			b.Name, readyLabel(b), b.Elements,
			humanize.Bytes(uint64(b.DataSize)), humanize.Bytes(uint64(b.IndexSize)),
			humanize.Time(b.ModTime))
	}

	return tw.Flush()
}

func readyLabel(b arraycache.BucketInfo) string {
	if b.Ready {
		return "yes"
	}

	return "no"
}
