package supervisor

import (
	"context"
	"os"
	"os/exec"
)

// locateOption is a single discovery strategy. It returns the resolved
// executable path if it matched, or "" if it didn't.
//
// The search order is a chain of these: explicit override path, discovered
// monorepo build artifact, PATH lookup.
type locateOption func(ctx context.Context) string

// withEnvPath resolves the executable from an environment variable holding
// an explicit path override.
func withEnvPath(envVar string) locateOption {
	return func(ctx context.Context) string {
		if path := os.Getenv(envVar); path != "" {
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		return ""
	}
}

// withMonorepoBuild resolves a build artifact at a fixed relative path,
// overridable via an environment variable naming the monorepo root.
func withMonorepoBuild(envVar, relBuildPath string) locateOption {
	return func(ctx context.Context) string {
		root := os.Getenv(envVar)
		if root == "" {
			return ""
		}
		candidate := root + string(os.PathSeparator) + relBuildPath
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		return ""
	}
}

// withPATH resolves a named executable via the environment search path.
func withPATH(name string) locateOption {
	return func(ctx context.Context) string {
		path, err := exec.LookPath(name)
		if err != nil {
			return ""
		}
		return path
	}
}

// Locate runs strategies in order and returns the first match, or "" if none matched.
func Locate(ctx context.Context, opts ...locateOption) string {
	for _, opt := range opts {
		if path := opt(ctx); path != "" {
			return path
		}
	}
	return ""
}

// DefaultLocateOptions builds the standard three-step search order:
// explicit override path, discovered monorepo build artifact, PATH lookup
// by name.
func DefaultLocateOptions(overrideEnv, monorepoEnv, monorepoRelPath, pathName string) []locateOption {
	return []locateOption{
		withEnvPath(overrideEnv),
		withMonorepoBuild(monorepoEnv, monorepoRelPath),
		withPATH(pathName),
	}
}
