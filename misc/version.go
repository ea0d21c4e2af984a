// Package misc keeps program identity values injected at build time.
package misc

import (
	"os"
	"path/filepath"
	"strings"
)

// set with -ldflags "-X resolveurl/misc.version=... -X resolveurl/misc.gitHash=..."
var (
	version = "dev"
	gitHash = "unknown"
	appName = ""
)

// GetVersion returns program version.
func GetVersion() string {
	return version
}

// GetGitHash returns commit the program was built from.
func GetGitHash() string {
	return gitHash
}

// GetAppName returns program name, either injected or derived from the executable.
func GetAppName() string {
	if len(appName) > 0 {
		return appName
	}
	name := filepath.Base(os.Args[0])
	return strings.TrimSuffix(name, filepath.Ext(name))
}
