// Package repair holds the out-of-band correlation utilities: looking a study
// up by accession number and rewriting a wrong accession number already
// published to a backend. These talk to one backend directly and carry no
// batching semantics; they are operational escape hatches, not sync steps.
package repair

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zorgnet/mwlsync/pacs"
)

// Service wraps one backend's query/modify surface.
type Service struct {
	backend pacs.StudyModifier
	log     zerolog.Logger
}

// NewService creates a repair service for one backend.
func NewService(backend pacs.StudyModifier, log zerolog.Logger) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	return &Service{backend: backend, log: log}, nil
}

// FindStudyByAccession looks a study up by its accession number.
func (s *Service) FindStudyByAccession(ctx context.Context, accessionNumber string) (*pacs.StudyRef, error) {
	if accessionNumber == "" {
		return nil, fmt.Errorf("accession number is required")
	}
	ref, err := s.backend.FindStudyByAccession(ctx, accessionNumber)
	if err != nil {
		return nil, fmt.Errorf("lookup of accession %s failed: %w", accessionNumber, err)
	}
	return ref, nil
}

// RenameAccession rewrites the accession number of an already published study
// and returns the identifier of the study carrying the new number.
func (s *Service) RenameAccession(ctx context.Context, studyID, newAccessionNumber string) (string, error) {
	if studyID == "" {
		return "", fmt.Errorf("study id is required")
	}
	if newAccessionNumber == "" {
		return "", fmt.Errorf("new accession number is required")
	}

	newID, err := s.backend.RenameAccession(ctx, studyID, newAccessionNumber)
	if err != nil {
		return "", fmt.Errorf("rename of study %s failed: %w", studyID, err)
	}

	s.log.Info().
		Str("studyId", studyID).
		Str("newStudyId", newID).
		Str("accessionNumber", newAccessionNumber).
		Msg("Accession number rewritten")
	return newID, nil
}
