package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/p4swarm/recordcache/pkg/records"
)

// addFetchFlags registers the flags shared by the record listing commands.
func addFetchFlags(fs *flag.FlagSet) {
	fs.StringP("match", "m", "", "Only ids matching this glob (** allowed)")
	fs.String("after", "", "Start after this id")
	fs.Int("max", 0, "Maximum results (0 = all)")
}

func fetchOptions[T any](fs *flag.FlagSet, ids []string) (records.FetchOptions[T], error) {
	match, _ := fs.GetString("match")
	after, _ := fs.GetString("after")

	limit, _ := fs.GetInt("max")
	if limit < 0 {
		return records.FetchOptions[T]{}, errors.New("--max must be non-negative")
	}

	return records.FetchOptions[T]{IDs: ids, After: after, NamePattern: match, Max: limit}, nil
}

// GroupsCmd returns the groups command.
func GroupsCmd(a *app) *Command {
	fs := flag.NewFlagSet("groups", flag.ContinueOnError)
	addFetchFlags(fs)
	fs.String("member", "", "Only groups this user belongs to")
	fs.Bool("indirect", false, "With --member, include membership through subgroups")
	fs.String("owner", "", "Only groups owned by this user")
	fs.String("check", "", "Exit 1 unless --member belongs to this group")

	return &Command{
		Flags: fs,
		Usage: "groups [flags] [id...]",
		Short: "List Perforce groups",
		Long:  `List groups as "<id>\t<users>", reading through the "groups" bucket.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execGroups(ctx, io, a, fs, args)
		},
	}
}

func execGroups(ctx context.Context, io *IO, a *app, fs *flag.FlagSet, args []string) error {
	base, err := fetchOptions[records.Group](fs, args)
	if err != nil {
		return err
	}

	member, _ := fs.GetString("member")
	indirect, _ := fs.GetBool("indirect")
	owner, _ := fs.GetString("owner")
	check, _ := fs.GetString("check")

	env, err := a.env()
	if err != nil {
		return err
	}

	groups := records.NewGroups(env, a.recordSource(records.GroupsBucket), a.recordOptions(false)...)

	if check != "" {
		if member == "" {
			return errors.New("--check requires --member")
		}

		ok, err := groups.IsMember(ctx, member, check, indirect)
		if err != nil {
			return err
		}

		if !ok {
			io.Warn(fmt.Sprintf("%s is not a member of %s", member, check), "add the user to the group or check --indirect")

			return nil
		}

		io.Println(member, "is a member of", check)

		return nil
	}

	list, err := groups.FetchAll(ctx, records.GroupFetchOptions{
		FetchOptions: base,
		Member:       member,
		Indirect:     indirect,
		Owner:        owner,
	})
	if err != nil {
		return err
	}

	for _, g := range list {
		io.Printf("%s\t%s\n", g.ID, strings.Join(g.Users, ","))
	}

	return nil
}

// UsersCmd returns the users command.
func UsersCmd(a *app) *Command {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	addFetchFlags(fs)
	fs.StringSlice("email", nil, "Only users with this email (repeatable)")

	return &Command{
		Flags: fs,
		Usage: "users [flags] [id...]",
		Short: "List or look up Perforce users",
		Long: `With ids, look each one up (case-insensitively if case_insensitive_users
is set). Without, list users. Output is "<id>\t<email>\t<full name>".`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execUsers(ctx, io, a, fs, args)
		},
	}
}

func execUsers(ctx context.Context, io *IO, a *app, fs *flag.FlagSet, args []string) error {
	env, err := a.env()
	if err != nil {
		return err
	}

	users := records.NewUsers(env, a.recordSource(records.UsersBucket), a.recordOptions(a.cfg.CaseInsensitiveUsers)...)

	if len(args) > 0 && !fs.Changed("email") && !fs.Changed("match") {
		for _, id := range args {
			u, err := users.Fetch(ctx, id)
			if errors.Is(err, records.ErrNotFound) {
				io.Warn(fmt.Sprintf("user %q not found", id), "check the id or rebuild the users bucket")

				continue
			}

			if err != nil {
				return err
			}

			io.Printf("%s\t%s\t%s\n", u.ID, u.Email, u.FullName)
		}

		return nil
	}

	base, err := fetchOptions[records.User](fs, args)
	if err != nil {
		return err
	}

	emails, _ := fs.GetStringSlice("email")

	list, err := users.FetchAll(ctx, records.UserFetchOptions{FetchOptions: base, Emails: emails})
	if err != nil {
		return err
	}

	for _, u := range list {
		io.Printf("%s\t%s\t%s\n", u.ID, u.Email, u.FullName)
	}

	return nil
}

// ProjectsCmd returns the projects command.
func ProjectsCmd(a *app) *Command {
	fs := flag.NewFlagSet("projects", flag.ContinueOnError)
	addFetchFlags(fs)
	fs.String("member", "", "Only projects this user belongs to or owns")
	fs.Bool("deleted", false, "Include deleted projects")

	return &Command{
		Flags: fs,
		Usage: "projects [flags] [id...]",
		Short: "List Swarm projects",
		Long:  `List projects as "<id>\t<name>". Deleted projects are hidden unless --deleted is set.`,
		Exec: func(ctx context.Context, io *IO, args []string) error {
			return execProjects(ctx, io, a, fs, args)
		},
	}
}

func execProjects(ctx context.Context, io *IO, a *app, fs *flag.FlagSet, args []string) error {
	base, err := fetchOptions[records.Project](fs, args)
	if err != nil {
		return err
	}

	member, _ := fs.GetString("member")
	deleted, _ := fs.GetBool("deleted")

	env, err := a.env()
	if err != nil {
		return err
	}

	projects := records.NewProjects(env, a.recordSource(records.ProjectsBucket), a.recordOptions(false)...)

	list, err := projects.FetchAll(ctx, records.ProjectFetchOptions{
		FetchOptions:   base,
		Member:         member,
		IncludeDeleted: deleted,
	})
	if err != nil {
		return err
	}

	for _, p := range list {
		line := p.ID + "\t" + p.Name
		if p.Deleted {
			line += "\t(deleted)"
		}

		io.Println(line)
	}

	return nil
}
