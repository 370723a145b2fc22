// Package versions provides read and ref-mutation access to the
// content-addressed history of documents.
//
// Each tenant's documents live in one bare git repository under the
// storage root. A document's head is the branch ref named after its
// document id; the attributes blob recording sequencing state is a file
// in the tree of the commit the head points at.
package versions

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrCommitNotFound indicates no commit exists for the given sha.
	ErrCommitNotFound = errors.New("commit not found")

	// ErrBlobNotFound indicates the commit tree has no file at the path.
	ErrBlobNotFound = errors.New("blob not found")
)

// Ref is a named pointer to a commit.
type Ref struct {
	Name string
	Hash string
}

// CommitSummary describes one commit in a document's history.
type CommitSummary struct {
	Hash    string
	Message string
	Time    time.Time
}

// Store is the version-store contract consumed by the fork coordinator.
type Store interface {
	// GetHeadRef resolves a document's head ref. Returns (nil, nil) when
	// the document has no committed history yet.
	GetHeadRef(ctx context.Context, tenantID, documentID string) (*Ref, error)

	// GetCommit returns the commit for sha, or ErrCommitNotFound.
	GetCommit(ctx context.Context, tenantID, sha string) (*CommitSummary, error)

	// GetRecentCommits returns up to count commits reachable from the
	// document's head, most recent first.
	GetRecentCommits(ctx context.Context, tenantID, documentID string, count int) ([]CommitSummary, error)

	// GetBlobContent reads the file at path in the tree of commitSha.
	// Returns ErrBlobNotFound if the tree has no such file.
	GetBlobContent(ctx context.Context, tenantID, commitSha, path string) ([]byte, error)

	// CreateOrUpdateRef points the branch ref for name at targetSha,
	// creating it if needed. targetSha must identify an existing commit.
	CreateOrUpdateRef(ctx context.Context, tenantID, name, targetSha string) (*Ref, error)
}
