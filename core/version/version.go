// Package version reports the procwire build.
package version

import (
	"fmt"
	"runtime"
)

// Version is the release, overridable at link time with
// -ldflags "-X procwire/core/version.Version=...".
var Version = "v0.1.0"

// APIVersion tracks the Command/Pipeline contract; bump when lowering or
// wait semantics change.
const APIVersion = "v1"

// String is the one-line build description printed by the CLI.
func String() string {
	return fmt.Sprintf("procwire %s (api %s, %s %s/%s)", Version, APIVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
