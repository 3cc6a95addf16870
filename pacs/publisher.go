// Package pacs defines the capability every worklist backend adapter
// implements, plus the shared result and error types. The orchestrator only
// talks to this interface; which concrete backend sits behind it is a matter
// of configuration, never of conditional branching in the sync loop.
package pacs

import (
	"context"

	"github.com/zorgnet/mwlsync/worklist"
)

// Backend names as used in configuration and reports.
const (
	BackendOrthanc  = "orthanc"
	BackendDcm4chee = "dcm4chee"
)

// PublishResult is the per-attempt outcome for one backend. Created per
// publish call, consumed immediately by the orchestrator; never persisted.
type PublishResult struct {
	AccessionNumber string `json:"accessionNumber"`
	Backend         string `json:"backend"`
	Success         bool   `json:"success"`

	// Duplicate marks a conflict response treated as success: the item was
	// already present under this accession number.
	Duplicate bool `json:"duplicate,omitempty"`

	// ExternalStudyID is the backend-assigned identifier, when the backend
	// reports one synchronously.
	ExternalStudyID string `json:"externalStudyId,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Publisher is the worklist publication capability of one PACS backend.
type Publisher interface {
	// Name returns the backend name for configuration and reporting.
	Name() string

	// Publish sends the item to the backend. Safe to call repeatedly with the
	// same accession number: a duplicate/conflict on the backend is reported
	// as Success with Duplicate set, not as an error.
	Publish(ctx context.Context, item worklist.Item) (PublishResult, error)

	// QueryByAccession verifies presence of an item and correlates the
	// externally generated study identifier. Returns ErrNotFound when the
	// backend has no entry for the accession number.
	QueryByAccession(ctx context.Context, accessionNumber string) (*worklist.Item, error)
}

// StudyRef identifies a study on a backend, as returned by the repair
// lookup surface.
type StudyRef struct {
	ID               string `json:"id"`
	StudyInstanceUID string `json:"studyInstanceUid,omitempty"`
	AccessionNumber  string `json:"accessionNumber"`
	PatientName      string `json:"patientName,omitempty"`
	PatientID        string `json:"patientId,omitempty"`
}

// StudyModifier is the out-of-band correlation/repair surface. Not every
// deployment enables it on every backend, so it is separate from Publisher.
type StudyModifier interface {
	// FindStudyByAccession looks a study up by its accession number.
	FindStudyByAccession(ctx context.Context, accessionNumber string) (*StudyRef, error)

	// RenameAccession rewrites the accession number of an already published
	// study and returns the identifier of the rewritten study.
	RenameAccession(ctx context.Context, studyID, newAccessionNumber string) (string, error)
}
