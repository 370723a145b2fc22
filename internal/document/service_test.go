package document

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/branchd/internal/docstore"
	"github.com/fyrsmithlabs/branchd/internal/versions"
)

// Fakes for the external stores.

type fakeVersions struct {
	mu    sync.Mutex
	refs  map[string]string            // tenant/name -> sha
	blobs map[string]map[string][]byte // sha -> path -> content

	headErr error
	blobErr error
	refErr  error

	createdRefs []versions.Ref
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{
		refs:  make(map[string]string),
		blobs: make(map[string]map[string][]byte),
	}
}

func (f *fakeVersions) setHead(tenantID, documentID, sha string) {
	f.refs[tenantID+"/"+documentID] = sha
}

func (f *fakeVersions) setBlob(sha, path string, content []byte) {
	if f.blobs[sha] == nil {
		f.blobs[sha] = make(map[string][]byte)
	}
	f.blobs[sha][path] = content
}

func (f *fakeVersions) GetHeadRef(ctx context.Context, tenantID, documentID string) (*versions.Ref, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.refs[tenantID+"/"+documentID]
	if !ok {
		return nil, nil
	}
	return &versions.Ref{Name: documentID, Hash: sha}, nil
}

func (f *fakeVersions) GetCommit(ctx context.Context, tenantID, sha string) (*versions.CommitSummary, error) {
	return &versions.CommitSummary{Hash: sha}, nil
}

func (f *fakeVersions) GetRecentCommits(ctx context.Context, tenantID, documentID string, count int) ([]versions.CommitSummary, error) {
	return nil, nil
}

func (f *fakeVersions) GetBlobContent(ctx context.Context, tenantID, commitSha, path string) ([]byte, error) {
	if f.blobErr != nil {
		return nil, f.blobErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.blobs[commitSha][path]
	if !ok {
		return nil, fmt.Errorf("%w: %s at %s", versions.ErrBlobNotFound, path, commitSha)
	}
	return content, nil
}

func (f *fakeVersions) CreateOrUpdateRef(ctx context.Context, tenantID, name, targetSha string) (*versions.Ref, error) {
	if f.refErr != nil {
		return nil, f.refErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := versions.Ref{Name: name, Hash: targetSha}
	f.refs[tenantID+"/"+name] = targetSha
	f.createdRefs = append(f.createdRefs, ref)
	return &ref, nil
}

type fakeAnnouncer struct {
	mu      sync.Mutex
	sent    []sentAnnouncement
	sendErr error
}

type sentAnnouncement struct {
	partitionKey string
	payload      []byte
}

func (f *fakeAnnouncer) Send(ctx context.Context, partitionKey string, payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentAnnouncement{partitionKey: partitionKey, payload: payload})
	return nil
}

func newTestService(t *testing.T) (Service, *docstore.MemoryStore, *fakeVersions, *fakeAnnouncer) {
	t.Helper()
	store := docstore.NewMemoryStore()
	vs := newFakeVersions()
	announcer := &fakeAnnouncer{}
	svc, err := NewService(nil, store, vs, announcer, nil)
	require.NoError(t, err)
	return svc, store, vs, announcer
}

func TestNewService_RequiresDependencies(t *testing.T) {
	store := docstore.NewMemoryStore()
	vs := newFakeVersions()
	announcer := &fakeAnnouncer{}

	_, err := NewService(nil, nil, vs, announcer, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record store is required")

	_, err = NewService(nil, store, nil, announcer, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version store is required")

	_, err = NewService(nil, store, vs, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "announcer is required")
}

func TestGetDocument_Absent(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	record, err := svc.GetDocument(context.Background(), "t1", "missing")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestGetOrCreateDocument_Idempotent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	existing, first, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)
	assert.False(t, existing)
	assert.Equal(t, int64(0), first.SequenceNumber)
	assert.Equal(t, int64(0), first.MinimumSequenceNumber)
	assert.Nil(t, first.Parent)
	assert.Empty(t, first.Forks)

	existing, second, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.SequenceNumber, second.SequenceNumber)
	assert.Equal(t, first.MinimumSequenceNumber, second.MinimumSequenceNumber)
	assert.Equal(t, first.Parent, second.Parent)
}

func TestGetForks_AbsentDocument(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	forks, err := svc.GetForks(context.Background(), "t1", "missing")
	require.NoError(t, err)
	assert.Empty(t, forks)
}

func TestCreateFork_NoHistory(t *testing.T) {
	svc, store, vs, announcer := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	forkID, err := svc.CreateFork(ctx, "t1", "doc1")
	require.NoError(t, err)
	require.NotEmpty(t, forkID)

	// Fork starts at the default sequencing state and gets no ref.
	record, err := store.FindOne(ctx, docstore.Key{TenantID: "t1", DocumentID: forkID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), record.SequenceNumber)
	assert.Equal(t, int64(0), record.MinimumSequenceNumber)
	require.NotNil(t, record.Parent)
	assert.Equal(t, "doc1", record.Parent.DocumentID)
	assert.Equal(t, int64(0), record.Parent.SequenceNumber)
	assert.Empty(t, vs.createdRefs)

	forks, err := svc.GetForks(ctx, "t1", "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{forkID}, forks)

	require.Len(t, announcer.sent, 1)
	assert.Equal(t, "doc1", announcer.sent[0].partitionKey)
}

func TestCreateFork_WithHistory(t *testing.T) {
	svc, store, vs, announcer := newTestService(t)
	ctx := context.Background()

	const headSha = "abc123abc123abc123abc123abc123abc123abcd"
	vs.setHead("t1", "doc1", headSha)
	vs.setBlob(headSha, AttributesPath, []byte(`{"sequenceNumber":42,"minimumSequenceNumber":10}`))

	_, _, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	forkID, err := svc.CreateFork(ctx, "t1", "doc1")
	require.NoError(t, err)

	// The fork's parent captures the sequencing state at the head commit.
	record, err := store.FindOne(ctx, docstore.Key{TenantID: "t1", DocumentID: forkID})
	require.NoError(t, err)
	require.NotNil(t, record.Parent)
	assert.Equal(t, &docstore.ParentRef{
		DocumentID:            "doc1",
		TenantID:              "t1",
		SequenceNumber:        42,
		MinimumSequenceNumber: 10,
	}, record.Parent)
	assert.Equal(t, int64(42), record.SequenceNumber)
	assert.Equal(t, int64(10), record.MinimumSequenceNumber)

	// The fork's ref points at the same commit as the parent's head.
	require.Len(t, vs.createdRefs, 1)
	assert.Equal(t, forkID, vs.createdRefs[0].Name)
	assert.Equal(t, headSha, vs.createdRefs[0].Hash)

	// Announcement carries the fork id and the captured state.
	require.Len(t, announcer.sent, 1)
	var envelope Envelope
	require.NoError(t, json.Unmarshal(announcer.sent[0].payload, &envelope))
	assert.Equal(t, "RawOperation", envelope.Type)
	assert.Equal(t, "doc1", envelope.DocumentID)
	assert.Equal(t, "Fork", envelope.Operation.Type)
	assert.Equal(t, int64(-1), envelope.Operation.ClientSequenceNumber)
	assert.Equal(t, int64(-1), envelope.Operation.ReferenceSequenceNumber)
	assert.Equal(t, forkID, envelope.Operation.Contents.DocumentID)
	assert.Equal(t, int64(42), envelope.Operation.Contents.SequenceNumber)
	assert.Equal(t, int64(10), envelope.Operation.Contents.MinSequenceNumber)
}

func TestCreateFork_CorruptAttributes(t *testing.T) {
	svc, _, vs, announcer := newTestService(t)
	ctx := context.Background()

	const headSha = "abc123abc123abc123abc123abc123abc123abcd"
	vs.setHead("t1", "doc1", headSha)
	vs.setBlob(headSha, AttributesPath, []byte(`not json`))

	_, _, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	_, err = svc.CreateFork(ctx, "t1", "doc1")
	assert.ErrorIs(t, err, ErrCorruptHistory)

	// Nothing observable happened: no ref, no record, no announcement.
	assert.Empty(t, vs.createdRefs)
	forks, err := svc.GetForks(ctx, "t1", "doc1")
	require.NoError(t, err)
	assert.Empty(t, forks)
	assert.Empty(t, announcer.sent)
}

func TestCreateFork_MissingAttributes(t *testing.T) {
	svc, _, vs, announcer := newTestService(t)
	ctx := context.Background()

	// Head exists but the commit has no attributes blob. Defaulting to
	// zero here would corrupt downstream sequencing.
	vs.setHead("t1", "doc1", "abc123abc123abc123abc123abc123abc123abcd")

	_, _, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	_, err = svc.CreateFork(ctx, "t1", "doc1")
	assert.ErrorIs(t, err, ErrCorruptHistory)
	assert.Empty(t, vs.createdRefs)
	assert.Empty(t, announcer.sent)
}

func TestCreateFork_HeadResolutionFails(t *testing.T) {
	svc, _, vs, announcer := newTestService(t)
	ctx := context.Background()

	vs.headErr = fmt.Errorf("storage unavailable")

	_, err := svc.CreateFork(ctx, "t1", "doc1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving parent head ref")
	assert.Empty(t, announcer.sent)
}

func TestCreateFork_RefCreationFails(t *testing.T) {
	svc, _, vs, announcer := newTestService(t)
	ctx := context.Background()

	const headSha = "abc123abc123abc123abc123abc123abc123abcd"
	vs.setHead("t1", "doc1", headSha)
	vs.setBlob(headSha, AttributesPath, []byte(`{"sequenceNumber":1,"minimumSequenceNumber":1}`))
	vs.refErr = fmt.Errorf("storage unavailable")

	_, _, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	_, err = svc.CreateFork(ctx, "t1", "doc1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating fork ref")

	// No metadata or announcement for the failed attempt.
	forks, err := svc.GetForks(ctx, "t1", "doc1")
	require.NoError(t, err)
	assert.Empty(t, forks)
	assert.Empty(t, announcer.sent)
}

func TestCreateFork_ParentRecordMissing(t *testing.T) {
	svc, _, _, announcer := newTestService(t)

	// Parent has no metadata record: registering the fork on it fails.
	_, err := svc.CreateFork(context.Background(), "t1", "doc1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registering fork on parent")
	assert.Empty(t, announcer.sent)
}

func TestCreateFork_AnnouncerFails(t *testing.T) {
	svc, _, _, announcer := newTestService(t)
	ctx := context.Background()

	announcer.sendErr = fmt.Errorf("transport down")

	_, _, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	_, err = svc.CreateFork(ctx, "t1", "doc1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "announcing fork")
}

// duplicateInsertStore forces every insert to collide, standing in for a
// generated id that already exists.
type duplicateInsertStore struct {
	*docstore.MemoryStore
}

func (s *duplicateInsertStore) InsertOne(ctx context.Context, record *docstore.Record) error {
	return docstore.ErrDuplicateKey
}

func TestCreateFork_DuplicateID(t *testing.T) {
	store := &duplicateInsertStore{MemoryStore: docstore.NewMemoryStore()}
	vs := newFakeVersions()
	announcer := &fakeAnnouncer{}
	svc, err := NewService(nil, store, vs, announcer, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, _, err = svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	_, err = svc.CreateFork(ctx, "t1", "doc1")
	assert.ErrorIs(t, err, ErrDuplicateDocumentID)
	assert.Empty(t, announcer.sent)
}

func TestCreateFork_ConcurrentForksAllRegister(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	const forkers = 8
	ids := make([]string, forkers)
	var wg sync.WaitGroup
	for i := 0; i < forkers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := svc.CreateFork(ctx, "t1", "doc1")
			assert.NoError(t, err)
			ids[n] = id
		}(i)
	}
	wg.Wait()

	forks, err := svc.GetForks(ctx, "t1", "doc1")
	require.NoError(t, err)
	require.Len(t, forks, forkers)

	seen := make(map[string]int)
	for _, id := range forks {
		seen[id]++
	}
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "fork %s registered exactly once", id)
	}
}

func TestCreateFork_ParentStateAdvancesAfterFork(t *testing.T) {
	svc, store, vs, _ := newTestService(t)
	ctx := context.Background()

	const headSha = "abc123abc123abc123abc123abc123abc123abcd"
	vs.setHead("t1", "doc1", headSha)
	vs.setBlob(headSha, AttributesPath, []byte(`{"sequenceNumber":42,"minimumSequenceNumber":10}`))

	_, _, err := svc.GetOrCreateDocument(ctx, "t1", "doc1")
	require.NoError(t, err)

	forkID, err := svc.CreateFork(ctx, "t1", "doc1")
	require.NoError(t, err)

	// The parent advances; the fork's captured snapshot stays frozen.
	err = store.Update(ctx, docstore.Key{TenantID: "t1", DocumentID: "doc1"},
		map[string]any{docstore.FieldSequenceNumber: int64(99)}, nil)
	require.NoError(t, err)

	record, err := store.FindOne(ctx, docstore.Key{TenantID: "t1", DocumentID: forkID})
	require.NoError(t, err)
	assert.Equal(t, int64(42), record.Parent.SequenceNumber)
	assert.Equal(t, int64(10), record.Parent.MinimumSequenceNumber)
}
