package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumFile = ".checksums"

var (
	// ErrNoChecksums means no .checksums manifest sits next to the config.
	ErrNoChecksums = errors.New("checksums file not found")

	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// ChecksumManifest is the on-disk .checksums format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"` // base filename -> blake3 hex
}

// ComputeBlake3Hash returns the hex BLAKE3-256 digest of a file.
func ComputeBlake3Hash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Lock hashes the config file and writes .checksums beside it. It returns
// the manifest path and the digest.
func Lock(configPath string) (string, string, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", "", err
	}
	hash, err := ComputeBlake3Hash(abs)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash %s: %w", abs, err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(abs): hash},
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal checksums: %w", err)
	}

	out := filepath.Join(filepath.Dir(abs), checksumFile)
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return out, hash, nil
}

// VerifyChecksums compares the config file with its .checksums entry.
func VerifyChecksums(configPath string) error {
	dir := filepath.Dir(configPath)
	data, err := os.ReadFile(filepath.Join(dir, checksumFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoChecksums
		}
		return fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}

	name := filepath.Base(configPath)
	want, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("%w: %s has no entry in %s (run 'herald config lock')", ErrChecksumMismatch, name, checksumFile)
	}
	got, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w for %s: expected %s, got %s\nIf you edited the file intentionally, run: herald config lock",
			ErrChecksumMismatch, name, want, got)
	}
	return nil
}
