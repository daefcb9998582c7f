package model

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	hashesFile     = "hashes.json"
	commitsFile    = "commits.json"
	headMarkerFile = "head_commit.json"
	syncLockFile   = ".sync-lock"

	// DefaultRecordPrefix is where record documents live in the remote
	// tree unless an adapter is configured otherwise.
	DefaultRecordPrefix = "records/"
)

var (
	reRecordID     *regexp.Regexp
	recordDocExtns = []string{".yaml", ".yml", ".json"}
)

func init() {
	reRecordID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]*$`)
}

// CanonicalRecordExt is used when composing a remote path for a push.
const CanonicalRecordExt = ".yaml"

// ValidateRecordID rejects ids that cannot be used as cache file names.
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("empty record id")
	}
	if !reRecordID.MatchString(id) {
		return fmt.Errorf("record id %q: must match %s", id, reRecordID)
	}
	return nil
}

// IsRecordPath reports whether a remote path denotes a record document
// under the given prefix. Only serialized document extensions count:
// images or free-form attachments under the prefix are not records.
func IsRecordPath(prefix, remotePath string) bool {
	if !strings.HasPrefix(remotePath, prefix) {
		return false
	}
	rel := strings.TrimPrefix(remotePath, prefix)
	if rel == "" || strings.Contains(rel, "/") {
		return false
	}
	ext := path.Ext(rel)
	for _, e := range recordDocExtns {
		if ext == e {
			return true
		}
	}
	return false
}

// RecordIDFromPath derives the record id from its remote path: the base
// name with the document extension stripped.
func RecordIDFromPath(remotePath string) string {
	base := path.Base(remotePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// PathForRecord composes the canonical remote path for a record id.
func PathForRecord(prefix, id string) string {
	return prefix + id + CanonicalRecordExt
}

// GetPathToRecord yields the location of a record body in the cache.
func GetPathToRecord(id string) string {
	return fmt.Sprintf("records/%s", id)
}

// GetPathToHashes yields the location of the id to content hash map.
func GetPathToHashes() string {
	return hashesFile
}

// GetPathToCommits yields the location of the id to last commit map.
func GetPathToCommits() string {
	return commitsFile
}

// GetPathToHeadMarker yields the location of the head marker, the file
// whose presence makes a cache populated.
func GetPathToHeadMarker() string {
	return headMarkerFile
}

// GetPathToSyncLock yields the location of the advisory sync lock.
func GetPathToSyncLock() string {
	return syncLockFile
}
