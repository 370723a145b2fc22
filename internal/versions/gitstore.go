package versions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// GitStore implements Store on top of git repositories, one bare
// repository per tenant under the storage root.
type GitStore struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	repos map[string]*git.Repository
}

// NewGitStore creates a GitStore rooted at root, creating the directory
// if needed.
func NewGitStore(root string, logger *zap.Logger) (*GitStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &GitStore{
		root:   root,
		logger: logger,
		repos:  make(map[string]*git.Repository),
	}, nil
}

// open returns the tenant's repository, opening or (when create is set)
// initializing it on first use. Repositories are cached per tenant.
func (s *GitStore) open(tenantID string, create bool) (*git.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if repo, ok := s.repos[tenantID]; ok {
		return repo, nil
	}

	path := filepath.Join(s.root, tenantID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) && create {
		repo, err = git.PlainInit(path, true)
		if err == nil {
			s.logger.Info("initialized tenant repository", zap.String("tenant_id", tenantID))
		}
	}
	if err != nil {
		return nil, err
	}

	s.repos[tenantID] = repo
	return repo, nil
}

// GetHeadRef resolves refs/heads/<documentID> in the tenant repository.
// A missing repository or ref means the document has no history yet.
func (s *GitStore) GetHeadRef(ctx context.Context, tenantID, documentID string) (*Ref, error) {
	repo, err := s.open(tenantID, false)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening tenant repository: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(documentID), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving ref for %s: %w", documentID, err)
	}

	return &Ref{Name: documentID, Hash: ref.Hash().String()}, nil
}

// GetCommit returns the commit identified by sha.
func (s *GitStore) GetCommit(ctx context.Context, tenantID, sha string) (*CommitSummary, error) {
	repo, err := s.open(tenantID, false)
	if err != nil {
		return nil, fmt.Errorf("opening tenant repository: %w", err)
	}

	commit, err := repo.CommitObject(plumbing.NewHash(sha))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, sha)
	}
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", sha, err)
	}

	return summarize(commit), nil
}

// GetRecentCommits walks the document's history from its head, most
// recent first, up to count entries.
func (s *GitStore) GetRecentCommits(ctx context.Context, tenantID, documentID string, count int) ([]CommitSummary, error) {
	head, err := s.GetHeadRef(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return []CommitSummary{}, nil
	}

	repo, err := s.open(tenantID, false)
	if err != nil {
		return nil, fmt.Errorf("opening tenant repository: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: plumbing.NewHash(head.Hash)})
	if err != nil {
		return nil, fmt.Errorf("walking history of %s: %w", documentID, err)
	}
	defer iter.Close()

	summaries := make([]CommitSummary, 0, count)
	for len(summaries) < count {
		commit, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walking history of %s: %w", documentID, err)
		}
		summaries = append(summaries, *summarize(commit))
	}

	return summaries, nil
}

func summarize(commit *object.Commit) *CommitSummary {
	return &CommitSummary{
		Hash:    commit.Hash.String(),
		Message: commit.Message,
		Time:    commit.Author.When,
	}
}

// GetBlobContent reads the file at path in the tree of commitSha.
func (s *GitStore) GetBlobContent(ctx context.Context, tenantID, commitSha, path string) ([]byte, error) {
	repo, err := s.open(tenantID, false)
	if err != nil {
		return nil, fmt.Errorf("opening tenant repository: %w", err)
	}

	commit, err := repo.CommitObject(plumbing.NewHash(commitSha))
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, commitSha)
	}
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", commitSha, err)
	}

	file, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s at %s", ErrBlobNotFound, path, commitSha)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s at %s: %w", path, commitSha, err)
	}

	content, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("reading %s at %s: %w", path, commitSha, err)
	}
	return []byte(content), nil
}

// CreateOrUpdateRef points refs/heads/<name> at targetSha. The target
// commit must exist; dangling refs to unknown objects are rejected.
func (s *GitStore) CreateOrUpdateRef(ctx context.Context, tenantID, name, targetSha string) (*Ref, error) {
	repo, err := s.open(tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("opening tenant repository: %w", err)
	}

	hash := plumbing.NewHash(targetSha)
	if _, err := repo.CommitObject(hash); err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, targetSha)
		}
		return nil, fmt.Errorf("reading commit %s: %w", targetSha, err)
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := repo.Storer.SetReference(ref); err != nil {
		return nil, fmt.Errorf("setting ref for %s: %w", name, err)
	}

	s.logger.Debug("updated ref",
		zap.String("tenant_id", tenantID),
		zap.String("name", name),
		zap.String("target", targetSha))

	return &Ref{Name: name, Hash: targetSha}, nil
}
