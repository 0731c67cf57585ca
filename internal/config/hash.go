package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest records BLAKE3 hashes of authorized config files.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// GenerateChecksums hashes the config file and writes the .checksums manifest
// beside it, authorizing the current configuration state.
func GenerateChecksums(configPath string) error {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", configPath, err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes: map[string]string{
			filepath.Base(configPath): hash,
		},
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal checksums: %w", err)
	}

	checksumPath := filepath.Join(filepath.Dir(configPath), ".checksums")
	if err := os.WriteFile(checksumPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", checksumPath, err)
	}
	return nil
}

// verifyConfigHash enforces the .checksums manifest when one exists.
// Without a manifest the config is accepted as-is.
func verifyConfigHash(configPath string) error {
	checksumPath := filepath.Join(filepath.Dir(configPath), ".checksums")
	data, err := os.ReadFile(checksumPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse checksums: %w", err)
	}

	expected, ok := manifest.Hashes[filepath.Base(configPath)]
	if !ok {
		return fmt.Errorf("config file %s is not authorized in .checksums (run 'transcriptd config lock')", filepath.Base(configPath))
	}
	if err := VerifyFileHash(configPath, expected); err != nil {
		return fmt.Errorf("config integrity check failed: %w\n"+
			"Hint: run 'transcriptd config lock' to authorize the current state", err)
	}
	return nil
}
