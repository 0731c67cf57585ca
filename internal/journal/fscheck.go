package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SQLite locking misbehaves on network mounts, so the journal refuses
// to open there rather than corrupt itself under the daemon's
// concurrent runner and sweeper writes.
var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

func validateJournalFilesystem(path string) error {
	return validateJournalFilesystemWithDetector(path, detectFilesystemType)
}

func validateJournalFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("storage.journal_path is empty")
	}

	// The journal file may not exist yet; check the closest parent that does.
	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve storage.journal_path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"storage.journal_path %q sits on network filesystem %q, where SQLite locking is unreliable; set it to a path on local disk",
			path,
			fsType,
		)
	}

	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
