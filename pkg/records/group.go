package records

import (
	"context"
	"fmt"
	"slices"

	"github.com/p4swarm/recordcache/pkg/codec"
)

// GroupsBucket is the cache bucket holding Perforce groups.
const GroupsBucket = "groups"

// Group is a Perforce group record.
type Group struct {
	ID        string
	Users     []string
	Owners    []string
	Subgroups []string
	// Timeout is the ticket timeout in seconds. Zero means unset or unlimited.
	Timeout int64
	// Raw is the record as stored.
	Raw codec.Map
}

// IsOwner reports whether user owns g.
func (g Group) IsOwner(user string) bool { return slices.Contains(g.Owners, user) }

// HasUser reports whether user is a direct member of g.
func (g Group) HasUser(user string) bool { return slices.Contains(g.Users, user) }

func decodeGroup(key string, value any) (Group, error) {
	m, ok := value.(codec.Map)
	if !ok {
		return Group{}, fmt.Errorf("expected map, got %T", value)
	}

	timeout, _ := m.Int("Timeout")

	return Group{
		ID:        key,
		Users:     m.Strings("Users"),
		Owners:    m.Strings("Owners"),
		Subgroups: m.Strings("Subgroups"),
		Timeout:   timeout,
		Raw:       m,
	}, nil
}

// GroupFetchOptions narrows [Groups.FetchAll].
type GroupFetchOptions struct {
	FetchOptions[Group]

	// Member keeps groups that list this user.
	Member string
	// Indirect also keeps groups that reach Member through subgroups.
	Indirect bool
	// Owner keeps groups owned by this user.
	Owner string
}

// Groups is the directory of Perforce groups.
type Groups struct {
	dir *Directory[Group]
}

// NewGroups returns the group directory.
func NewGroups(env Environment, src Source, opts ...Option) *Groups {
	return &Groups{dir: NewDirectory(env, GroupsBucket, src, decodeGroup, opts...)}
}

// Fetch returns one group.
func (g *Groups) Fetch(ctx context.Context, id string) (Group, error) {
	return g.dir.Fetch(ctx, id)
}

// Exists reports whether the group exists.
func (g *Groups) Exists(ctx context.Context, id string) (bool, error) {
	return g.dir.Exists(ctx, id)
}

// FetchAll returns the groups selected by opts.
func (g *Groups) FetchAll(ctx context.Context, opts GroupFetchOptions) ([]Group, error) {
	base := opts.FetchOptions
	filters := []func(Group) bool{}

	if base.Filter != nil {
		filters = append(filters, base.Filter)
	}

	if opts.Owner != "" {
		filters = append(filters, func(gr Group) bool { return gr.IsOwner(opts.Owner) })
	}

	if opts.Member != "" {
		if opts.Indirect {
			all, err := g.dir.FetchAll(ctx, FetchOptions[Group]{})
			if err != nil {
				return nil, err
			}

			in := memberships(all, opts.Member)
			filters = append(filters, func(gr Group) bool {
				_, ok := in[gr.ID]

				return ok
			})
		} else {
			filters = append(filters, func(gr Group) bool { return gr.HasUser(opts.Member) })
		}
	}

	if len(filters) > 0 {
		base.Filter = func(gr Group) bool {
			for _, f := range filters {
				if !f(gr) {
					return false
				}
			}

			return true
		}
	}

	return g.dir.FetchAll(ctx, base)
}

// IsMember reports whether user is in group. With recursive set, membership
// through subgroups counts too. Unknown subgroups are ignored.
//
// The whole walk reads one snapshot of the bucket.
func (g *Groups) IsMember(ctx context.Context, user, group string, recursive bool) (bool, error) {
	v, err := g.dir.snapshot(ctx)
	if err != nil {
		return false, err
	}

	defer v.close()

	seen := map[string]bool{}
	queue := []string{group}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if seen[id] {
			continue
		}

		seen[id] = true

		gr, found, err := v.get(ctx, id)
		if err != nil {
			return false, err
		}

		if !found {
			if id == group {
				return false, fmt.Errorf("%s %q: %w", GroupsBucket, id, ErrNotFound)
			}

			continue
		}

		if gr.HasUser(user) {
			return true, nil
		}

		if recursive {
			queue = append(queue, gr.Subgroups...)
		}
	}

	return false, nil
}

// memberships returns the ids of every group that contains user directly or
// through any chain of subgroups.
func memberships(all []Group, user string) map[string]struct{} {
	parents := map[string][]string{}
	in := map[string]struct{}{}
	queue := []string{}

	for _, gr := range all {
		for _, sub := range gr.Subgroups {
			parents[sub] = append(parents[sub], gr.ID)
		}

		if gr.HasUser(user) {
			in[gr.ID] = struct{}{}
			queue = append(queue, gr.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, p := range parents[id] {
			if _, ok := in[p]; !ok {
				in[p] = struct{}{}
				queue = append(queue, p)
			}
		}
	}

	return in
}
