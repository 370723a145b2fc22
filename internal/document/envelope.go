package document

import "time"

// Wire constants for the integration envelope. These names are a
// compatibility surface with downstream consumers and must not change.
const (
	envelopeTypeRawOperation = "RawOperation"
	operationTypeFork        = "Fork"

	// systemSequenceNumber marks an operation as system-originated rather
	// than a client edit.
	systemSequenceNumber = -1
)

// ForkContents carries the fork's identity and sequencing snapshot.
type ForkContents struct {
	DocumentID        string `json:"documentId"`
	TenantID          string `json:"tenantId"`
	SequenceNumber    int64  `json:"sequenceNumber"`
	MinSequenceNumber int64  `json:"minSequenceNumber"`
}

// ForkOperation is the operation body of a fork announcement.
type ForkOperation struct {
	Type                    string       `json:"type"`
	ClientSequenceNumber    int64        `json:"clientSequenceNumber"`
	ReferenceSequenceNumber int64        `json:"referenceSequenceNumber"`
	Traces                  []any        `json:"traces"`
	Contents                ForkContents `json:"contents"`
}

// Envelope is the raw-operation wrapper routed on the parent document's
// partition. ClientID and User marshal as JSON null: a fork announcement
// is not a client-originated edit.
type Envelope struct {
	Type       string        `json:"type"`
	TenantID   string        `json:"tenantId"`
	DocumentID string        `json:"documentId"`
	ClientID   *string       `json:"clientId"`
	User       any           `json:"user"`
	Timestamp  int64         `json:"timestamp"`
	Operation  ForkOperation `json:"operation"`
}

// NewForkEnvelope builds the integration announcement for a fork. The
// envelope's DocumentID is the parent (the routing key); the fork's id and
// sequencing snapshot travel in the operation contents.
func NewForkEnvelope(tenantID, parentDocumentID, forkDocumentID string, state SequenceState, now time.Time) *Envelope {
	return &Envelope{
		Type:       envelopeTypeRawOperation,
		TenantID:   tenantID,
		DocumentID: parentDocumentID,
		Timestamp:  now.UnixMilli(),
		Operation: ForkOperation{
			Type:                    operationTypeFork,
			ClientSequenceNumber:    systemSequenceNumber,
			ReferenceSequenceNumber: systemSequenceNumber,
			Traces:                  []any{},
			Contents: ForkContents{
				DocumentID:        forkDocumentID,
				TenantID:          tenantID,
				SequenceNumber:    state.SequenceNumber,
				MinSequenceNumber: state.MinimumSequenceNumber,
			},
		},
	}
}
