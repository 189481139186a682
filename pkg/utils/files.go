package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	TextExt   = ".wat"
	BinaryExt = ".wasm"
)

// GetPathInfo resolves a source path given on the command line to a clean
// absolute path and the directory its artifacts are written to.
func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", errors.Wrapf(err, "resolving %s", relPath)
	}

	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// ArtifactPaths derives the text and binary output paths for a source file:
// the source path with its extension replaced.
func ArtifactPaths(srcPath string) (watPath, wasmPath string) {
	base := strings.TrimSuffix(srcPath, filepath.Ext(srcPath))
	return base + TextExt, base + BinaryExt
}

// Artifact is one output file.
type Artifact struct {
	Path string
	Data []byte
}

// WriteArtifacts writes every artifact or none of them. Each file is first
// written to a temporary sibling; the temporaries are renamed into place only
// after all of them were written successfully. If a rename fails, artifacts
// already renamed are removed again, so an earlier version of a file is lost
// rather than left beside a partner from another build. onTemp, if non-nil,
// is told about every temporary so that callers can remove them on abnormal
// exit.
func WriteArtifacts(artifacts []Artifact, onTemp func(path string)) error {
	temps := make([]string, 0, len(artifacts))
	cleanup := func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}

	for _, a := range artifacts {
		f, err := os.CreateTemp(filepath.Dir(a.Path), "."+filepath.Base(a.Path)+".*")
		if err != nil {
			cleanup()
			return errors.Wrapf(err, "creating temporary file for %s", a.Path)
		}
		temps = append(temps, f.Name())
		if onTemp != nil {
			onTemp(f.Name())
		}

		if _, err := f.Write(a.Data); err != nil {
			f.Close()
			cleanup()
			return errors.Wrapf(err, "writing %s", a.Path)
		}
		if err := f.Close(); err != nil {
			cleanup()
			return errors.Wrapf(err, "closing %s", a.Path)
		}
		if err := os.Chmod(f.Name(), 0o644); err != nil {
			cleanup()
			return errors.Wrapf(err, "setting mode of %s", a.Path)
		}
	}

	for i, a := range artifacts {
		if err := os.Rename(temps[i], a.Path); err != nil {
			for _, done := range artifacts[:i] {
				_ = os.Remove(done.Path)
			}
			cleanup()
			return errors.Wrapf(err, "renaming %s", a.Path)
		}
	}
	return nil
}
