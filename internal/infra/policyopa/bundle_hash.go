package policyopa

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Directories that never carry normative policy text. Dot-directories are
// skipped as well.
var skippedDirs = map[string]bool{
	"__MACOSX": true,
	"vendor":   true,
}

// ComputeBundleHashFromPath hashes the normative files of a policy bundle.
// The hash pins the exact policy text behind every access decision, so two
// bundles with the same rego and data content always produce the same hash
// regardless of file ordering or editor debris next to them.
func ComputeBundleHashFromPath(bundlePath string) (string, error) {
	return ComputeBundleHashFromFS(os.DirFS(bundlePath), ".")
}

// ComputeBundleHashFromFS hashes every .rego, data.json and manifest.json
// file under root. The canonical form is a manifest of "path sha256" lines
// sorted by path; the bundle hash is the sha256 of that manifest.
func ComputeBundleHashFromFS(fsys fs.FS, root string) (string, error) {
	digests := map[string]string{}
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !normativeFile(d.Name()) {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		digests[filepath.ToSlash(path)] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		return "", err
	}

	paths := make([]string, 0, len(digests))
	for path := range digests {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	manifest := sha256.New()
	for _, path := range paths {
		fmt.Fprintf(manifest, "%s %s\n", path, digests[path])
	}
	return hex.EncodeToString(manifest.Sum(nil)), nil
}

func skipDir(name string) bool {
	return skippedDirs[name] || strings.HasPrefix(name, ".")
}

// normativeFile reports whether a bundle entry affects policy decisions.
// Hidden files, editor backups and packaged archives are excluded.
func normativeFile(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	if name == "data.json" || name == "manifest.json" {
		return true
	}
	return strings.HasSuffix(name, ".rego")
}
