// Package docstore persists per-document metadata records: sequencing
// state, branch lineage, and fork lists.
//
// Two implementations are provided: MongoStore for production and
// MemoryStore for development and tests. Both honor the same atomicity
// contract: FindOrCreate is a single conditional write, and appends in
// Update are genuine appends at the store layer, so concurrent appends to
// the same record never lose updates.
package docstore

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrNotFound indicates no record exists for the given key.
	ErrNotFound = errors.New("document record not found")

	// ErrDuplicateKey indicates an insert collided with an existing record.
	ErrDuplicateKey = errors.New("document record already exists")
)

// Field names accepted by Update. These match the BSON field names so the
// Mongo implementation can pass them through verbatim.
const (
	FieldSequenceNumber        = "sequenceNumber"
	FieldMinimumSequenceNumber = "minimumSequenceNumber"
	FieldForks                 = "forks"
	FieldLogOffset             = "logOffset"
)

// Key identifies a document record. DocumentID is unique within a tenant.
type Key struct {
	TenantID   string
	DocumentID string
}

// ParentRef captures the sequencing state of a parent document at fork
// time. It is set once at creation and never mutated afterward.
type ParentRef struct {
	DocumentID            string `bson:"documentId" json:"documentId"`
	TenantID              string `bson:"tenantId" json:"tenantId"`
	SequenceNumber        int64  `bson:"sequenceNumber" json:"sequenceNumber"`
	MinimumSequenceNumber int64  `bson:"minimumSequenceNumber" json:"minimumSequenceNumber"`
}

// ForkRef identifies a child document created from this record.
type ForkRef struct {
	DocumentID string `bson:"documentId" json:"documentId"`
	TenantID   string `bson:"tenantId" json:"tenantId"`
}

// Record is the metadata record for one document.
//
// LogOffset, Clients, and BranchMap are owned by other services; this
// package stores them verbatim and never interprets or mutates them.
type Record struct {
	DocumentID            string     `bson:"documentId" json:"documentId"`
	TenantID              string     `bson:"tenantId" json:"tenantId"`
	SequenceNumber        int64      `bson:"sequenceNumber" json:"sequenceNumber"`
	MinimumSequenceNumber int64      `bson:"minimumSequenceNumber" json:"minimumSequenceNumber"`
	Parent                *ParentRef `bson:"parent" json:"parent"`
	Forks                 []ForkRef  `bson:"forks" json:"forks"`
	CreateTime            time.Time  `bson:"createTime" json:"createTime"`

	LogOffset int64 `bson:"logOffset,omitempty" json:"logOffset,omitempty"`
	Clients   any   `bson:"clients,omitempty" json:"clients,omitempty"`
	BranchMap any   `bson:"branchMap,omitempty" json:"branchMap,omitempty"`
}

// Clone returns a deep-enough copy of the record. Parent and Forks are
// copied; opaque fields are shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Parent != nil {
		parent := *r.Parent
		out.Parent = &parent
	}
	out.Forks = make([]ForkRef, len(r.Forks))
	copy(out.Forks, r.Forks)
	return &out
}

// Store provides access to document metadata records.
type Store interface {
	// FindOne returns the record for key, or ErrNotFound.
	FindOne(ctx context.Context, key Key) (*Record, error)

	// FindOrCreate atomically returns the existing record for key or
	// creates defaultRecord. Exactly one creation succeeds under
	// concurrent callers; existing reports which outcome this caller hit.
	FindOrCreate(ctx context.Context, key Key, defaultRecord *Record) (existing bool, record *Record, err error)

	// InsertOne creates a new record. Returns ErrDuplicateKey if a record
	// with the same key already exists.
	InsertOne(ctx context.Context, record *Record) error

	// Update applies field sets and field appends to the record for key.
	// Appends are atomic at the store layer: concurrent appends to the
	// same field all land. Returns ErrNotFound if no record matches.
	Update(ctx context.Context, key Key, sets map[string]any, appends map[string]any) error

	// Close releases store resources.
	Close(ctx context.Context) error
}
