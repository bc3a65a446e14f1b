package handlers

import (
	"net/http"
	"runtime"
	"sync/atomic"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/dripgate/dripgate/internal/appid"
)

type buildInfo struct {
	version   string
	commit    string
	buildDate string
}

var (
	currentBuild atomic.Pointer[buildInfo]
	appIdentity  atomic.Pointer[appidentity.Identity]
)

func init() {
	currentBuild.Store(&buildInfo{version: "dev", commit: "unknown", buildDate: "unknown"})
}

// SetVersionInfo records the ldflags build stamp.
func SetVersionInfo(version, commit, buildDate string) {
	currentBuild.Store(&buildInfo{version: version, commit: commit, buildDate: buildDate})
}

// SetAppIdentity overrides the binary name reported by /version.
func SetAppIdentity(identity *appidentity.Identity) {
	appIdentity.Store(identity)
}

// VersionResponse is the /version body. It carries no host details since
// the endpoint is public.
type VersionResponse struct {
	App          AppInfo `json:"app"`
	Dependencies DepInfo `json:"dependencies"`
}

type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	name := appid.BinaryName
	if identity := appIdentity.Load(); identity != nil && identity.BinaryName != "" {
		name = identity.BinaryName
	}
	build := currentBuild.Load()
	deps := crucible.GetVersion()

	writeJSON(w, VersionResponse{
		App: AppInfo{
			Name:      name,
			Version:   build.version,
			Commit:    build.commit,
			BuildDate: build.buildDate,
			GoVersion: runtime.Version(),
		},
		Dependencies: DepInfo{
			Gofulmen: deps.Gofulmen,
			Crucible: deps.Crucible,
		},
	})
}
