package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/branchd/internal/announce"
	"github.com/fyrsmithlabs/branchd/internal/docstore"
	"github.com/fyrsmithlabs/branchd/internal/names"
	"github.com/fyrsmithlabs/branchd/internal/versions"
)

const instrumentationName = "github.com/fyrsmithlabs/branchd/internal/document"

// ErrDuplicateDocumentID indicates a generated fork id collided with an
// existing record. Callers should retry the whole fork with a fresh id;
// reusing the failed id is unsafe.
var ErrDuplicateDocumentID = errors.New("document id already in use")

// Service provides document lifecycle operations.
type Service interface {
	// GetDocument returns the record for a document, or (nil, nil) if no
	// record exists.
	GetDocument(ctx context.Context, tenantID, documentID string) (*docstore.Record, error)

	// GetOrCreateDocument atomically returns the existing record or
	// creates one at the starting sequencing state. existing reports
	// which outcome this caller observed.
	GetOrCreateDocument(ctx context.Context, tenantID, documentID string) (existing bool, record *docstore.Record, err error)

	// GetForks returns the document ids of the document's forks. An
	// absent document yields an empty list, same as a document with no
	// forks.
	GetForks(ctx context.Context, tenantID, documentID string) ([]string, error)

	// CreateFork creates a new document forked from parentDocumentID and
	// returns its generated id. See the package documentation for the
	// partial-failure contract.
	CreateFork(ctx context.Context, tenantID, parentDocumentID string) (string, error)
}

// Config configures the document service.
type Config struct {
	// StartingSequenceNumber seeds documents and forks that have no
	// committed history.
	StartingSequenceNumber int64

	// AttributesPath is the tree path of the attributes blob.
	AttributesPath string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		StartingSequenceNumber: StartingSequenceNumber,
		AttributesPath:         AttributesPath,
	}
}

type service struct {
	config    *Config
	records   docstore.Store
	versions  versions.Store
	announcer announce.Announcer
	ids       *names.Generator
	logger    *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	forkCounter   metric.Int64Counter
	createCounter metric.Int64Counter
}

// NewService creates a document service.
func NewService(cfg *Config, records docstore.Store, vs versions.Store, announcer announce.Announcer, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.AttributesPath == "" {
		cfg.AttributesPath = AttributesPath
	}
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if vs == nil {
		return nil, errors.New("version store is required")
	}
	if announcer == nil {
		return nil, errors.New("announcer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:    cfg,
		records:   records,
		versions:  vs,
		announcer: announcer,
		ids:       names.NewGenerator(),
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.forkCounter, err = s.meter.Int64Counter(
		"branchd.document.forks_total",
		metric.WithDescription("Total forks created"),
		metric.WithUnit("{fork}"),
	)
	if err != nil {
		s.logger.Warn("failed to create fork counter", zap.Error(err))
	}

	s.createCounter, err = s.meter.Int64Counter(
		"branchd.document.creates_total",
		metric.WithDescription("Total documents created"),
		metric.WithUnit("{create}"),
	)
	if err != nil {
		s.logger.Warn("failed to create create counter", zap.Error(err))
	}
}

// GetDocument is a pure lookup; absence is not an error.
func (s *service) GetDocument(ctx context.Context, tenantID, documentID string) (*docstore.Record, error) {
	ctx, span := s.tracer.Start(ctx, "document.get")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("document_id", documentID),
	)

	record, err := s.records.FindOne(ctx, docstore.Key{TenantID: tenantID, DocumentID: documentID})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("looking up document: %w", err)
	}
	return record, nil
}

// GetOrCreateDocument relies on the store's conditional create: exactly
// one concurrent caller performs the insert, everyone observes the same
// final record.
func (s *service) GetOrCreateDocument(ctx context.Context, tenantID, documentID string) (bool, *docstore.Record, error) {
	ctx, span := s.tracer.Start(ctx, "document.get_or_create")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("document_id", documentID),
	)

	defaultRecord := &docstore.Record{
		DocumentID:            documentID,
		TenantID:              tenantID,
		SequenceNumber:        s.config.StartingSequenceNumber,
		MinimumSequenceNumber: s.config.StartingSequenceNumber,
		Parent:                nil,
		Forks:                 []docstore.ForkRef{},
		CreateTime:            time.Now(),
	}

	existing, record, err := s.records.FindOrCreate(ctx, docstore.Key{TenantID: tenantID, DocumentID: documentID}, defaultRecord)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, nil, fmt.Errorf("get-or-create document: %w", err)
	}

	if !existing {
		if s.createCounter != nil {
			s.createCounter.Add(ctx, 1)
		}
		s.logger.Info("created document",
			zap.String("tenant_id", tenantID),
			zap.String("document_id", documentID))
	}

	span.SetAttributes(attribute.Bool("existing", existing))
	return existing, record, nil
}

// GetForks returns the parent's fork list. An absent record reads as "no
// forks"; callers that need to distinguish absence should use GetDocument.
func (s *service) GetForks(ctx context.Context, tenantID, documentID string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "document.get_forks")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("document_id", documentID),
	)

	record, err := s.records.FindOne(ctx, docstore.Key{TenantID: tenantID, DocumentID: documentID})
	if errors.Is(err, docstore.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("looking up document: %w", err)
	}

	forks := make([]string, 0, len(record.Forks))
	for _, fork := range record.Forks {
		forks = append(forks, fork.DocumentID)
	}
	return forks, nil
}

// CreateFork orchestrates the fork: resolve the parent's head once, seed
// the fork's sequencing state from the attributes at that commit (or the
// starting state when there is no history), link parent and fork in the
// record store, and announce the fork on the parent's partition.
func (s *service) CreateFork(ctx context.Context, tenantID, parentDocumentID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "document.create_fork")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("parent_document_id", parentDocumentID),
	)

	forkID := s.ids.DocumentID()
	span.SetAttributes(attribute.String("fork_document_id", forkID))

	// Resolved once; the attributes read and the fork ref below both use
	// this commit, never a re-resolved head.
	head, err := s.versions.GetHeadRef(ctx, tenantID, parentDocumentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("resolving parent head ref: %w", err)
	}

	state := InitialSequenceState(s.config.StartingSequenceNumber)
	if head != nil {
		// The attributes are validated before the ref write so a parent
		// with corrupt history never leaves a fork ref behind.
		data, err := s.versions.GetBlobContent(ctx, tenantID, head.Hash, s.config.AttributesPath)
		if errors.Is(err, versions.ErrBlobNotFound) {
			err = fmt.Errorf("%w: no attributes at head %s", ErrCorruptHistory, head.Hash)
		}
		if err == nil {
			state, err = ParseSequenceState(data)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}

		if _, err := s.versions.CreateOrUpdateRef(ctx, tenantID, forkID, head.Hash); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("creating fork ref: %w", err)
		}
	}

	forkRecord := &docstore.Record{
		DocumentID:            forkID,
		TenantID:              tenantID,
		SequenceNumber:        state.SequenceNumber,
		MinimumSequenceNumber: state.MinimumSequenceNumber,
		Parent: &docstore.ParentRef{
			DocumentID:            parentDocumentID,
			TenantID:              tenantID,
			SequenceNumber:        state.SequenceNumber,
			MinimumSequenceNumber: state.MinimumSequenceNumber,
		},
		Forks:      []docstore.ForkRef{},
		CreateTime: time.Now(),
	}

	// Insert the fork record and register it on the parent concurrently.
	// The two writes hit different keys and there is no transaction across
	// them; either may land alone on failure (see package doc).
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.records.InsertOne(gctx, forkRecord)
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateDocumentID, forkID)
		}
		if err != nil {
			return fmt.Errorf("inserting fork record: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := s.records.Update(gctx,
			docstore.Key{TenantID: tenantID, DocumentID: parentDocumentID},
			nil,
			map[string]any{docstore.FieldForks: docstore.ForkRef{DocumentID: forkID, TenantID: tenantID}},
		)
		if err != nil {
			return fmt.Errorf("registering fork on parent: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	envelope := NewForkEnvelope(tenantID, parentDocumentID, forkID, state, time.Now())
	payload, err := json.Marshal(envelope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("encoding fork announcement: %w", err)
	}
	if err := s.announcer.Send(ctx, parentDocumentID, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("announcing fork: %w", err)
	}

	if s.forkCounter != nil {
		s.forkCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("has_history", head != nil),
		))
	}

	s.logger.Info("created fork",
		zap.String("tenant_id", tenantID),
		zap.String("parent_document_id", parentDocumentID),
		zap.String("fork_document_id", forkID),
		zap.Int64("sequence_number", state.SequenceNumber),
		zap.Int64("minimum_sequence_number", state.MinimumSequenceNumber))

	return forkID, nil
}
