package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/p4swarm/recordcache/pkg/codec"
)

// UsersBucket is the cache bucket holding Perforce users.
const UsersBucket = "users"

// User is a Perforce user record.
type User struct {
	ID       string
	Email    string
	FullName string
	Raw      codec.Map
}

func decodeUser(key string, value any) (User, error) {
	m, ok := value.(codec.Map)
	if !ok {
		return User{}, fmt.Errorf("expected map, got %T", value)
	}

	return User{
		ID:       key,
		Email:    m.String("Email"),
		FullName: m.String("FullName"),
		Raw:      m,
	}, nil
}

// Users is the directory of Perforce users. Perforce servers can be case
// insensitive, in which case [CaseInsensitive] should be passed.
type Users struct {
	dir *Directory[User]
}

// NewUsers returns the user directory.
func NewUsers(env Environment, src Source, opts ...Option) *Users {
	return &Users{dir: NewDirectory(env, UsersBucket, src, decodeUser, opts...)}
}

// Fetch returns one user.
func (u *Users) Fetch(ctx context.Context, id string) (User, error) {
	return u.dir.Fetch(ctx, id)
}

// Exists reports whether the user exists.
func (u *Users) Exists(ctx context.Context, id string) (bool, error) {
	return u.dir.Exists(ctx, id)
}

// UserFetchOptions narrows [Users.FetchAll].
type UserFetchOptions struct {
	FetchOptions[User]

	// Emails keeps users whose email matches one of these, ignoring case.
	Emails []string
}

// FetchAll returns the users selected by opts.
func (u *Users) FetchAll(ctx context.Context, opts UserFetchOptions) ([]User, error) {
	base := opts.FetchOptions
	if len(opts.Emails) == 0 {
		return u.dir.FetchAll(ctx, base)
	}

	emails := make(map[string]struct{}, len(opts.Emails))
	for _, e := range opts.Emails {
		emails[strings.ToLower(e)] = struct{}{}
	}

	user := base.Filter
	base.Filter = func(usr User) bool {
		if _, ok := emails[strings.ToLower(usr.Email)]; !ok {
			return false
		}

		return user == nil || user(usr)
	}

	return u.dir.FetchAll(ctx, base)
}
