package buildinfo

import "runtime/debug"

var version = "dev"

var readBuildInfo = debug.ReadBuildInfo

// SetVersion allows build scripts to override the version information.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// Version returns the release version, else the module version, else the
// short VCS revision of a development build.
func Version() string {
	if version != "dev" {
		return version
	}
	info, ok := readBuildInfo()
	if !ok {
		return "dev"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return "dev"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		revision += "-dirty"
	}
	return "dev-" + revision
}
