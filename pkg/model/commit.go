package model

import "time"

// CommitRef identifies a commit on the remote repository.
type CommitRef struct {
	ID        string      `json:"id" yaml:"id"`
	Branch    string      `json:"branch,omitempty" yaml:"branch,omitempty"`
	Message   string      `json:"message,omitempty" yaml:"message,omitempty"`
	Author    Contributor `json:"author,omitempty" yaml:"author,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	URL       string      `json:"url,omitempty" yaml:"url,omitempty"`
	_         struct{}
}

// ChangeKind classifies how a path changed between two commits.
type ChangeKind int

const (
	// ChangeModified covers additions and in-place edits.
	ChangeModified ChangeKind = iota
	// ChangeDeleted marks a path removed from the tree.
	ChangeDeleted
	// ChangeRenamed marks a path moved to a new location.
	ChangeRenamed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// PathChange is a single entry in the diff between two commits.
type PathChange struct {
	Path     string     `json:"path" yaml:"path"`
	Kind     ChangeKind `json:"kind" yaml:"kind"`
	PrevPath string     `json:"prevPath,omitempty" yaml:"prevPath,omitempty"`
	_        struct{}
}

// Changeset is a batch of record writes pushed as one commit.
type Changeset struct {
	Records []Record    `json:"records" yaml:"records"`
	Title   string      `json:"title" yaml:"title"`
	Message string      `json:"message,omitempty" yaml:"message,omitempty"`
	Author  Contributor `json:"author,omitempty" yaml:"author,omitempty"`
	_       struct{}
}
