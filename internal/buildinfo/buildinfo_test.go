package buildinfo

import (
	"runtime/debug"
	"testing"
)

func TestVersion(t *testing.T) {
	origVersion := version
	origRead := readBuildInfo
	t.Cleanup(func() {
		version = origVersion
		readBuildInfo = origRead
	})

	cases := map[string]struct {
		info *debug.BuildInfo
		ok   bool
		want string
	}{
		"no info":        {nil, false, "dev"},
		"module version": {&debug.BuildInfo{Main: debug.Module{Version: "v0.3.1"}}, true, "v0.3.1"},
		"devel no vcs":   {&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true, "dev"},
		"devel with vcs": {&debug.BuildInfo{
			Main: debug.Module{Version: "(devel)"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.modified", Value: "true"},
			},
		}, true, "dev-0123456789ab-dirty"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			version = "dev"
			readBuildInfo = func() (*debug.BuildInfo, bool) { return tc.info, tc.ok }
			if got := Version(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}

	SetVersion("")
	if version != "dev" {
		t.Fatalf("empty SetVersion must not override")
	}
	SetVersion("1.2.3")
	if got := Version(); got != "1.2.3" {
		t.Fatalf("expected ldflags version, got %q", got)
	}
}
