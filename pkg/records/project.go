package records

import (
	"context"
	"fmt"
	"slices"

	"github.com/p4swarm/recordcache/pkg/codec"
)

// ProjectsBucket is the cache bucket holding Swarm projects.
const ProjectsBucket = "projects"

// Project is a Swarm project.
type Project struct {
	ID          string
	Name        string
	Description string
	Members     []string
	Owners      []string
	Deleted     bool
	Raw         codec.Map
}

// HasMember reports whether user is a member or owner of p.
func (p Project) HasMember(user string) bool {
	return slices.Contains(p.Members, user) || slices.Contains(p.Owners, user)
}

func decodeProject(key string, value any) (Project, error) {
	m, ok := value.(codec.Map)
	if !ok {
		return Project{}, fmt.Errorf("expected map, got %T", value)
	}

	deleted, _ := m.Get("deleted")

	p := Project{
		ID:          key,
		Name:        m.String("name"),
		Description: m.String("description"),
		Members:     m.Strings("members"),
		Owners:      m.Strings("owners"),
	}

	switch d := deleted.(type) {
	case bool:
		p.Deleted = d
	case int64:
		p.Deleted = d != 0
	case string:
		p.Deleted = d == "1" || d == "true"
	}

	if p.Name == "" {
		p.Name = key
	}

	p.Raw = m

	return p, nil
}

// ProjectFetchOptions narrows [Projects.FetchAll].
type ProjectFetchOptions struct {
	FetchOptions[Project]

	// Member keeps projects this user belongs to or owns.
	Member string
	// IncludeDeleted keeps projects marked deleted.
	IncludeDeleted bool
}

// Projects is the directory of Swarm projects.
type Projects struct {
	dir *Directory[Project]
}

// NewProjects returns the project directory.
func NewProjects(env Environment, src Source, opts ...Option) *Projects {
	return &Projects{dir: NewDirectory(env, ProjectsBucket, src, decodeProject, opts...)}
}

// Fetch returns one project, deleted or not.
func (p *Projects) Fetch(ctx context.Context, id string) (Project, error) {
	return p.dir.Fetch(ctx, id)
}

// Exists reports whether the project exists.
func (p *Projects) Exists(ctx context.Context, id string) (bool, error) {
	return p.dir.Exists(ctx, id)
}

// FetchAll returns the projects selected by opts. Deleted projects are left
// out unless IncludeDeleted is set.
func (p *Projects) FetchAll(ctx context.Context, opts ProjectFetchOptions) ([]Project, error) {
	base := opts.FetchOptions
	user := base.Filter

	base.Filter = func(pr Project) bool {
		if pr.Deleted && !opts.IncludeDeleted {
			return false
		}

		if opts.Member != "" && !pr.HasMember(opts.Member) {
			return false
		}

		return user == nil || user(pr)
	}

	return p.dir.FetchAll(ctx, base)
}
