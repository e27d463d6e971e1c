package cli_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/p4swarm/recordcache/internal/cli"
)

const fixture = `{
  "groups": [
    {"Group": "eng", "Users": ["alice", "bob"], "Owners": ["dave"]},
    {"Group": "qa", "Users": ["carol"], "Subgroups": ["eng"]},
    {"Group": "all", "Subgroups": ["qa"]},
    {"Group": "loop-a", "Users": ["zed"]},
  ],
  "users": [
    {"User": "Alice", "Email": "alice@example.com", "FullName": "Alice A."},
    {"User": "bob", "Email": "bob@example.com", "FullName": "Bob B."},
  ],
  "projects": {
    "swarm": {"name": "Swarm", "members": ["alice"]},
    "legacy": {"name": "Legacy", "members": ["bob"], "deleted": true},
  },
}
`

// newFixtureCLI returns a CLI whose project config points at the fixture.
func newFixtureCLI(t *testing.T) *cli.CLI {
	t.Helper()

	c := cli.NewCLI(t)
	c.WriteFile("fixture.jsonc", fixture)
	c.WriteFile(".recordcache.json", `{
		// records come from the fixture
		"source": "fixture.jsonc",
	}`)

	return c
}

func lines(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, "\n")
}

func Test_Print_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "cache_dir="+c.CacheDir())
	cli.AssertContains(t, stdout, "fallback_on_cache_error=false")
	cli.AssertContains(t, stdout, "(defaults only)")
	cli.AssertNotContains(t, stdout, "source=")

	if _, err := os.Stat(c.CacheDir()); !os.IsNotExist(err) {
		t.Fatalf("print-config should not create the cache dir, stat err = %v", err)
	}
}

func Test_Print_Config_Reads_Project_File_And_Flags_When_Invoked(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	stdout := c.MustRun("--cache-dir", "elsewhere", "print-config")
	cli.AssertContains(t, stdout, "source="+filepath.Join(c.Dir, "fixture.jsonc"))
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "elsewhere"))
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".recordcache.json"))

	stdout = c.MustRun("print-config", "--json")
	cli.AssertContains(t, stdout, "fixture.jsonc")
}

func Test_Get_Builds_Bucket_Then_Prints_Record_When_Missing(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	stdout := c.MustRun("get", "groups", "eng")
	if want := `eng	{"Group":"eng","Users":["alice","bob"],"Owners":["dave"]}`; stdout != want {
		t.Fatalf("stdout = %q, want %q", stdout, want)
	}

	for _, name := range []string{"groups", "groups.index"} {
		if _, err := os.Stat(filepath.Join(c.CacheDir(), name)); err != nil {
			t.Fatalf("%s should exist: %v", name, err)
		}
	}
}

func Test_Get_Serves_Cached_Copy_Until_Invalidated(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)
	c.MustRun("get", "groups", "qa")

	c.WriteFile("fixture.jsonc", `{"groups": [{"Group": "qa", "Users": ["new-user"]}]}`)

	stdout := c.MustRun("get", "groups", "qa")
	cli.AssertContains(t, stdout, `"carol"`)

	cli.AssertContains(t, c.MustRun("invalidate", "groups"), "invalidated groups")

	stdout = c.MustRun("get", "groups", "qa")
	cli.AssertContains(t, stdout, `"new-user"`)
}

func Test_Get_Warns_About_Missing_Keys_And_Prints_The_Rest(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	stdout, stderr, code := c.Run("get", "groups", "nope", "qa")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}

	cli.AssertContains(t, stdout, "qa\t")
	cli.AssertContains(t, stderr, `warning: groups: key "nope" not found`)
}

func Test_Get_Matches_Case_Insensitively_With_Flag(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	c.MustFail("get", "users", "alice")

	stdout := c.MustRun("get", "-i", "users", "alice")
	cli.AssertContains(t, stdout, "Alice\t")
	cli.AssertContains(t, stdout, "alice@example.com")
}

func Test_Get_Fails_Without_Source_When_Bucket_Is_Not_Built(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("get", "groups", "eng")
	cli.AssertContains(t, stderr, "no source configured")
}

func Test_Get_Requires_Bucket_And_Key(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	cli.AssertContains(t, c.MustFail("get"), "bucket name required")
	cli.AssertContains(t, c.MustFail("get", "groups"), "at least one key required")
	cli.AssertContains(t, c.MustFail("get", "../groups", "eng"), "invalid bucket name")
}

func Test_Ls_Lists_Keys_In_Write_Order_With_Filters(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	got := lines(c.MustRun("ls", "groups"))
	if want := []string{"eng", "qa", "all", "loop-a"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ls = %v, want %v", got, want)
	}

	got = lines(c.MustRun("ls", "--match", "loop-*", "groups"))
	if len(got) != 1 || got[0] != "loop-a" {
		t.Fatalf("ls --match = %v", got)
	}

	got = lines(c.MustRun("ls", "--values", "--limit", "1", "groups"))
	if len(got) != 1 || !strings.HasPrefix(got[0], "eng\t{") {
		t.Fatalf("ls --values --limit 1 = %v", got)
	}

	cli.AssertContains(t, c.MustFail("ls", "--limit", "-1", "groups"), "--limit must be non-negative")
}

func Test_Build_All_Then_Info_Lists_Every_Bucket(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	stdout := c.MustRun("build", "--all")
	cli.AssertContains(t, stdout, "built groups: 4 elements")
	cli.AssertContains(t, stdout, "built users: 2 elements")
	cli.AssertContains(t, stdout, "built projects: 2 elements")

	stdout = c.MustRun("info")
	cli.AssertContains(t, stdout, "BUCKET")

	for _, name := range []string{"groups", "users", "projects"} {
		cli.AssertContains(t, stdout, name)
	}

	stdout = c.MustRun("info", "groups")
	cli.AssertContains(t, stdout, "Ready:     true")
	cli.AssertContains(t, stdout, "Elements:  4")

	c.MustRun("invalidate", "groups", "users", "projects")
	cli.AssertContains(t, c.MustRun("info"), "(no buckets in")
	cli.AssertContains(t, c.MustFail("info", "groups"), "missing")
}

func Test_Build_Fails_Without_Source_Or_Buckets(t *testing.T) {
	t.Parallel()

	cli.AssertContains(t, cli.NewCLI(t).MustFail("build", "groups"), "no source configured")

	c := newFixtureCLI(t)
	cli.AssertContains(t, c.MustFail("build"), "bucket name required")
	cli.AssertContains(t, c.MustFail("build", "nope"), "unknown bucket")
}

func Test_Groups_Filters_By_Member_And_Owner(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	got := lines(c.MustRun("groups", "--member", "alice", "--indirect"))
	if strings.Join(got, "|") != "eng\talice,bob|qa\tcarol|all" {
		t.Fatalf("groups --member alice --indirect = %q", got)
	}

	got = lines(c.MustRun("groups", "--owner", "dave"))
	if len(got) != 1 || !strings.HasPrefix(got[0], "eng\t") {
		t.Fatalf("groups --owner dave = %q", got)
	}

	cli.AssertContains(t, c.MustRun("groups", "--member", "alice", "--indirect", "--check", "all"), "alice is a member of all")

	_, stderr, code := c.Run("groups", "--member", "alice", "--check", "all")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}

	cli.AssertContains(t, stderr, "alice is not a member of all")
}

func Test_Users_Looks_Up_Case_Insensitively_When_Configured(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	_, stderr, code := c.Run("users", "alice")
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}

	cli.AssertContains(t, stderr, `user "alice" not found`)

	c.WriteFile(".recordcache.json", `{"source": "fixture.jsonc", "case_insensitive_users": true}`)

	stdout := c.MustRun("users", "alice")
	if want := "Alice\talice@example.com\tAlice A."; stdout != want {
		t.Fatalf("stdout = %q, want %q", stdout, want)
	}

	stdout = c.MustRun("users", "--email", "BOB@example.com")
	cli.AssertContains(t, stdout, "bob\tbob@example.com")
}

func Test_Projects_Hides_Deleted_Unless_Asked(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	stdout := c.MustRun("projects")
	cli.AssertContains(t, stdout, "swarm\tSwarm")
	cli.AssertNotContains(t, stdout, "legacy")

	stdout = c.MustRun("projects", "--deleted", "--member", "bob")
	if stdout != "legacy\tLegacy\t(deleted)" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func Test_No_Cache_Reads_Source_Without_Creating_Cache(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	stdout := c.MustRun("--no-cache", "groups", "--match", "e*")
	cli.AssertContains(t, stdout, "eng\talice,bob")

	if _, err := os.Stat(c.CacheDir()); !os.IsNotExist(err) {
		t.Fatalf("--no-cache should not create the cache dir, stat err = %v", err)
	}
}

func Test_Verbose_Logs_Rebuilds_To_Stderr(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	_, stderr, code := c.Run("-v", "--timeout", "1m", "get", "groups", "eng")
	if code != 0 {
		t.Fatalf("exit code = %d\nstderr: %s", code, stderr)
	}

	cli.AssertContains(t, stderr, "rebuild needed")
	cli.AssertContains(t, stderr, "rebuild finished")
	cli.AssertContains(t, stderr, "bucket=groups")
}

func Test_Shell_Runs_Commands_From_Input(t *testing.T) {
	t.Parallel()

	c := newFixtureCLI(t)

	stdout, stderr, code := c.RunWithInput("get groups qa\n\nls --match 'nothing' groups\nbogus\nhelp\nexit\nget groups eng\n", "shell")
	if code != 0 {
		t.Fatalf("exit code = %d\nstderr: %s", code, stderr)
	}

	cli.AssertContains(t, stdout, "recordcache shell")
	cli.AssertContains(t, stdout, `qa	{"Group":"qa"`)
	cli.AssertContains(t, stdout, "print-config")
	cli.AssertNotContains(t, stdout, `eng	{"Group":"eng"`)
	cli.AssertContains(t, stderr, "unknown command: bogus")
}

func Test_Unknown_Command_And_Help(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("frobnicate")
	cli.AssertContains(t, stderr, "unknown command: frobnicate")

	stdout := c.MustRun("--help")
	cli.AssertContains(t, stdout, "Commands:")
	cli.AssertContains(t, stdout, "get [flags] <bucket> <key>...")

	stdout = c.MustRun("get", "--help")
	cli.AssertContains(t, stdout, "Usage: recordcache get")
	cli.AssertContains(t, stdout, "--ignore-case")
}
