package sessionrt

import (
	"fmt"
	"runtime"

	hclog "github.com/hashicorp/go-hclog"
	goversion "github.com/hashicorp/go-version"
)

// libraryVersion is this module's own semantic version. It is parsed with
// go-version (rather than compared as a bare string) so that future
// version-gated behavior has something structured to compare against.
const libraryVersionString = "1.0.0"

var libraryVersion = goversion.Must(goversion.NewVersion(libraryVersionString))

// logProvenanceBanner writes the session-startup banner: library version,
// Go runtime version, and platform. This mirrors the "provenance banner" a
// worker agent would otherwise print before running any Actions.
func logProvenanceBanner(logger hclog.Logger) {
	logger.Info("session runtime starting",
		"library_version", libraryVersion.String(),
		"go_version", runtime.Version(),
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	)
}

func logSectionBanner(logger hclog.Logger, title string) {
	logger.Info("==== " + title + " ====")
}

func logSubsectionBanner(logger hclog.Logger, title string) {
	logger.Debug("---- " + title + " ----")
}
