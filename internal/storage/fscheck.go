package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystems on which SQLite locking is unreliable.
var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocal fails when path would land on a network filesystem.
func CheckLocal(path string) error {
	return checkLocal(path, filesystemType)
}

func checkLocal(path string, detect func(string) (string, error)) error {
	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve state path %q: %w", path, err)
	}

	fsType, err := detect(dir)
	if err != nil {
		// Unknown platforms get the benefit of the doubt.
		if errors.Is(err, errUnsupported) {
			return nil
		}
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}

	if _, remote := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]; remote {
		return fmt.Errorf("state.path %q is on network filesystem %q; the journal needs local disk", path, fsType)
	}
	return nil
}

var errUnsupported = errors.New("filesystem detection unsupported")

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		dir = parent
	}
}
