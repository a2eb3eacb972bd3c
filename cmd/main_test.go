package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	cmd := rootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	var decoded map[string]any
	if out.Len() > 0 {
		if jerr := json.Unmarshal(out.Bytes(), &decoded); jerr != nil {
			t.Fatalf("decode output %q: %v", out.String(), jerr)
		}
	}
	return decoded, err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		cmd := rootCommand()

		convey.Convey("Then every subcommand is registered", func() {
			names := map[string]bool{}
			for _, c := range cmd.Commands() {
				names[c.Name()] = true
			}
			for _, want := range []string{"serve", "analyze", "cleanup", "seed"} {
				convey.So(names[want], convey.ShouldBeTrue)
			}
		})

		convey.Convey("And cleanup defaults to a dry run", func() {
			c, _, err := cmd.Find([]string{"cleanup"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(c.Flags().Lookup("apply").DefValue, convey.ShouldEqual, "false")
		})
	})
}

// isolate clears the environment overrides a command could pick up. The
// variables are restored when the test ends.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{"RECON_CONFIG", "RECON_STORE_DRIVER", "RECON_SQLITE_PATH"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestReconcileCommands(t *testing.T) {
	isolate(t)

	convey.Convey("Given an empty in-memory store", t, func() {
		convey.Convey("When analyzing", func() {
			out, err := run(t, "analyze")

			convey.Convey("Then an empty analysis is printed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out["total_activities"], convey.ShouldEqual, 0.0)
			})
		})

		convey.Convey("When cleaning up without --apply", func() {
			out, err := run(t, "cleanup", "--limit", "5")

			convey.Convey("Then the result is a dry run", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out["dry_run"], convey.ShouldEqual, true)
				convey.So(out["analyzed"], convey.ShouldEqual, 0.0)
			})
		})
	})
}

func TestConfigFileFlag(t *testing.T) {
	isolate(t)

	convey.Convey("Given a config file selecting SQLite", t, func() {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "recon.yaml")
		yaml := "store_driver: sqlite\nsqlite_path: " + filepath.Join(dir, "recon.db") + "\nlog_level: error\n"
		convey.So(os.WriteFile(cfgPath, []byte(yaml), 0o600), convey.ShouldBeNil)

		convey.Convey("When applying a cleanup through --config", func() {
			out, err := run(t, "--config", cfgPath, "cleanup", "--apply")

			convey.Convey("Then the store is opened and nothing is marked", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out["dry_run"], convey.ShouldEqual, false)
				convey.So(out["marked_as_duplicates"], convey.ShouldEqual, 0.0)
			})
		})
	})
}

func TestInvalidConfiguration(t *testing.T) {
	isolate(t)
	t.Setenv("RECON_STORE_DRIVER", "cassandra")

	convey.Convey("Given an invalid configuration", t, func() {
		convey.Convey("Then commands fail before touching a store", func() {
			_, err := run(t, "analyze")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
