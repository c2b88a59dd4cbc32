package feed

import (
	"os"

	"github.com/hashicorp/go-version"
)

// DetectInstallation returns the installed version, or nil when the
// application is not installed at targetPath or runs from a build without a
// release version (such as "dev").
func DetectInstallation(targetPath, current string) *version.Version {
	if targetPath == "" {
		return nil
	}
	if info, err := os.Stat(targetPath); err != nil || info.IsDir() {
		return nil
	}
	v, err := version.NewVersion(current)
	if err != nil {
		return nil
	}
	return v
}
