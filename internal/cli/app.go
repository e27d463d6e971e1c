package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/p4swarm/recordcache/internal/config"
	"github.com/p4swarm/recordcache/internal/source"
	"github.com/p4swarm/recordcache/pkg/arraycache"
	"github.com/p4swarm/recordcache/pkg/records"
)

var (
	errNoSource       = errors.New("no source configured (set \"source\" in config or pass --source)")
	errBucketRequired = errors.New("bucket name required")
	errUnknownCommand = errors.New("unknown command")
)

// app is the state shared by the commands of one invocation or shell
// session.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	stdin   io.Reader
	limit   arraycache.TimeLimit // nil without --timeout
	noCache bool

	mgr *arraycache.Manager
	src *source.File
}

// commands returns fresh command values; flag sets keep state, so each
// dispatch gets its own. a may be nil when only help lines are needed.
func commands(a *app) []*Command {
	return []*Command{
		GetCmd(a),
		LsCmd(a),
		BuildCmd(a),
		InvalidateCmd(a),
		InfoCmd(a),
		GroupsCmd(a),
		UsersCmd(a),
		ProjectsCmd(a),
		ShellCmd(a),
		PrintConfigCmd(a),
	}
}

func (a *app) dispatch(ctx context.Context, o *IO, args []string) int {
	name := args[0]

	for _, c := range commands(a) {
		if c.Name() == name {
			return c.Run(ctx, o, args[1:])
		}
	}

	o.ErrPrintln("error:", fmt.Errorf("%w: %s", errUnknownCommand, name))
	printUsage(o.errOut, nil)

	return 1
}

// manager opens the cache directory on first use, so commands that never
// touch the cache do not create it.
func (a *app) manager() (*arraycache.Manager, error) {
	if a.mgr != nil {
		return a.mgr, nil
	}

	opts := []arraycache.Option{
		arraycache.WithLogger(a.log),
		arraycache.WithRebuildTimeout(a.cfg.RebuildTimeout),
	}

	if a.limit != nil {
		opts = append(opts, arraycache.WithTimeLimit(a.limit, 0))
	}

	m, err := arraycache.NewManager(a.cfg.CacheDirAbs, opts...)
	if err != nil {
		return nil, err
	}

	a.mgr = m

	return m, nil
}

func (a *app) source() (*source.File, error) {
	if a.src != nil {
		return a.src, nil
	}

	if a.cfg.SourceAbs == "" {
		return nil, errNoSource
	}

	f, err := source.Open(a.cfg.SourceAbs)
	if err != nil {
		return nil, err
	}

	a.src = f

	return f, nil
}

// open returns a reader for bucket, building it from the source if needed.
// Without a source only already built buckets can be read.
func (a *app) open(ctx context.Context, bucket string) (*arraycache.Reader, error) {
	m, err := a.manager()
	if err != nil {
		return nil, err
	}

	var enumerate arraycache.Enumerator

	if a.cfg.SourceAbs != "" {
		src, err := a.source()
		if err != nil {
			return nil, err
		}

		enumerate = src.Bucket(bucket).Enumerate
	}

	r, err := m.GetOrBuild(ctx, bucket, enumerate)
	if err != nil {
		if enumerate == nil && arraycache.KindOf(err) == arraycache.KindMissing {
			return nil, fmt.Errorf("%w; bucket %q cannot be built: %w", err, bucket, errNoSource)
		}

		return nil, err
	}

	return r, nil
}

// env returns the records environment: the cache, or none with --no-cache.
func (a *app) env() (records.Environment, error) {
	if a.noCache {
		return records.StaticEnv{}, nil
	}

	m, err := a.manager()
	if err != nil {
		return nil, err
	}

	return records.StaticEnv{Cache: m}, nil
}

// recordSource returns the live source for bucket. Without a configured
// source, reads still work against already built buckets.
func (a *app) recordSource(bucket string) records.Source {
	src, err := a.source()
	if err != nil {
		return failingSource{err: err}
	}

	return src.Bucket(bucket)
}

func (a *app) recordOptions(caseInsensitive bool) []records.Option {
	return []records.Option{
		records.WithLogger(a.log),
		records.FallbackOnCacheError(a.cfg.FallbackOnCacheError),
		records.CaseInsensitive(caseInsensitive),
	}
}

// failingSource is the records.Source used when none is configured.
type failingSource struct{ err error }

func (s failingSource) Each(context.Context, func(string, any) error) error { return s.err }

func (s failingSource) Lookup(context.Context, string) (any, bool, error) {
	return nil, false, s.err
}
