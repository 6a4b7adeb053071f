// Package testutil provides shared fixtures for tests that build real
// project trees on disk.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TempDir returns a fresh temporary directory with symlinks resolved, so
// paths compare equal to the real paths tools report (macOS /var).
func TempDir(t testing.TB) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

// WriteFile writes content to path, creating parent directories
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// Symlink creates the link at path pointing to target, creating parent
// directories
func Symlink(t testing.TB, target, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.Symlink(target, path))
}

// Tree maps every entry below dir to its contents, or to "link:<target>"
// for symlinks. Keys are slash separated and relative to dir.
func Tree(t testing.TB, dir string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			tree[filepath.ToSlash(rel)] = "link:" + target
		case info.Mode().IsRegular():
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			tree[filepath.ToSlash(rel)] = string(data)
		}
		return nil
	})
	require.NoError(t, err)
	return tree
}

// ServerProject lays out a single-package app: a server entry importing a
// local module, a node builtin and the "dep" package. It returns the root.
func ServerProject(t testing.TB) string {
	t.Helper()
	root := TempDir(t)
	WriteFile(t, filepath.Join(root, "server/index.ts"), `
import { helper } from "../lib/helper";
import { readFileSync } from "node:fs";
import dep from "dep";
export default function handler(): unknown[] {
  return [helper(), readFileSync, dep];
}
`)
	WriteFile(t, filepath.Join(root, "lib/helper.ts"), `export function helper(): string { return "helped"; }`)
	WriteFile(t, filepath.Join(root, "node_modules/dep/package.json"), `{"name":"dep","main":"index.js"}`)
	WriteFile(t, filepath.Join(root, "node_modules/dep/index.js"), `module.exports = "dep";`)
	return root
}
