// Package project resolves filesystem paths relative to the project root.
package project

import (
	"fmt"
	"os"
	"path/filepath"
)

// RootEnvVar overrides the detected project root.
const RootEnvVar = "OPENDUT_REPO_ROOT"

// Root returns the project root: the value of OPENDUT_REPO_ROOT when set,
// otherwise the directory containing the running executable.
func Root() (string, error) {
	if root := os.Getenv(RootEnvVar); root != "" {
		return filepath.Clean(root), nil
	}
	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to determine executable path: %w", err)
	}
	return filepath.Dir(executable), nil
}

// MakePathAbsolute returns path unchanged when it is absolute and joins it onto
// root otherwise. An empty root falls back to Root().
func MakePathAbsolute(root, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if root == "" {
		var err error
		root, err = Root()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(root, path), nil
}
