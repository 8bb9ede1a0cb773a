// Package version reports the engine version compiled into artifacts, so a
// cache entry produced by one engine build is never loaded by another.
package version

import "runtime/debug"

// version is the fallback when the binary carries no module build info,
// e.g. when built from a working tree.
const version = "dev"

// GetVersion returns the module version of the main binary's wavm
// dependency, or the main module's own version when wavm is built directly.
func GetVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	for _, dep := range info.Deps {
		if dep.Path == "github.com/wavmio/wavm" {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}
