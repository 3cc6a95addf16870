// Package dcm4chee publishes worklist items to a dcm4chee-style worklist
// management REST API. Unlike the Orthanc façade this backend has a native
// MWL object: items carry the full field set (diagnosis coding, payer type,
// a pre-assigned Study Instance UID) and the backend confirms the study
// identifier synchronously on creation.
package dcm4chee

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/zorgnet/mwlsync/pacs"
	"github.com/zorgnet/mwlsync/worklist"
)

// Config carries the connection and DICOM addressing identifiers for one
// dcm4chee archive.
type Config struct {
	BaseURL    string
	AETitle    string // archive AE the worklist is managed under
	CallingAET string
	CalledAET  string
	Timeout    time.Duration
}

// Client is the dcm4chee adapter. Implements pacs.Publisher and
// pacs.StudyModifier.
type Client struct {
	cfg    Config
	http   *resty.Client
	log    zerolog.Logger
	newUID func() string
}

// NewClient creates a dcm4chee adapter.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/dicom+json")

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		log:    log.With().Str("backend", pacs.BackendDcm4chee).Logger(),
		newUID: NewStudyInstanceUID,
	}
}

func (c *Client) Name() string { return pacs.BackendDcm4chee }

func (c *Client) mwlPath() string {
	return fmt.Sprintf("/dcm4chee-arc/aets/%s/rs/mwlitems", c.cfg.AETitle)
}

// Publish creates the MWL item. A 409 from the archive means the accession
// number is already scheduled there; that is reported as a duplicate-flagged
// success so re-sync never fails loudly on items already present.
func (c *Client) Publish(ctx context.Context, item worklist.Item) (pacs.PublishResult, error) {
	result := pacs.PublishResult{
		AccessionNumber: item.AccessionNumber,
		Backend:         pacs.BackendDcm4chee,
	}

	studyUID := c.newUID()
	ds := datasetFromItem(item, studyUID)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/dicom+json").
		SetBody(ds).
		Post(c.mwlPath())
	if err != nil {
		return result, &pacs.ConnectionError{Backend: pacs.BackendDcm4chee, Op: "create mwlitem", Err: err}
	}

	if resp.StatusCode() == http.StatusConflict {
		c.log.Debug().
			Str("accessionNumber", item.AccessionNumber).
			Msg("Archive reports accession number already scheduled, treating as duplicate success")
		result.Success = true
		result.Duplicate = true
		if ref, ferr := c.FindStudyByAccession(ctx, item.AccessionNumber); ferr == nil {
			result.ExternalStudyID = ref.StudyInstanceUID
		}
		return result, nil
	}
	if err := c.classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return result, err
	}

	// The archive echoes the created dataset; prefer its confirmed study UID
	// over the one we pre-assigned.
	confirmed := studyUID
	if uid := studyUIDFromResponse(resp.Body()); uid != "" {
		confirmed = uid
	}

	c.log.Info().
		Str("accessionNumber", item.AccessionNumber).
		Str("studyInstanceUid", confirmed).
		Msg("Created worklist item on dcm4chee")

	result.Success = true
	result.ExternalStudyID = confirmed
	return result, nil
}

// QueryByAccession fetches the MWL item for an accession number.
func (c *Client) QueryByAccession(ctx context.Context, accessionNumber string) (*worklist.Item, error) {
	matches, err := c.query(ctx, accessionNumber)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, pacs.ErrNotFound
	}
	item := itemFromDataset(matches[0])
	return &item, nil
}

// FindStudyByAccession is the repair lookup surface.
func (c *Client) FindStudyByAccession(ctx context.Context, accessionNumber string) (*pacs.StudyRef, error) {
	matches, err := c.query(ctx, accessionNumber)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, pacs.ErrNotFound
	}
	ds := matches[0]
	return &pacs.StudyRef{
		ID:               ds.str(tagStudyInstanceUID),
		StudyInstanceUID: ds.str(tagStudyInstanceUID),
		AccessionNumber:  ds.str(tagAccessionNumber),
		PatientName:      ds.personName(tagPatientName),
		PatientID:        ds.str(tagPatientID),
	}, nil
}

// RenameAccession rewrites the accession number of an existing MWL item,
// addressed by its Study Instance UID. The archive updates in place, so the
// identifier is returned unchanged.
func (c *Client) RenameAccession(ctx context.Context, studyID, newAccessionNumber string) (string, error) {
	if !isUID(studyID) {
		return "", fmt.Errorf("invalid study instance UID %q", studyID)
	}
	matches, err := c.queryBy(ctx, tagStudyInstanceUID, studyID)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", pacs.ErrNotFound
	}

	ds := matches[0]
	ds[tagAccessionNumber] = tagValue{VR: "SH", Value: []any{newAccessionNumber}}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/dicom+json").
		SetBody(ds).
		Post(c.mwlPath())
	if err != nil {
		return "", &pacs.ConnectionError{Backend: pacs.BackendDcm4chee, Op: "update mwlitem", Err: err}
	}
	if err := c.classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return "", err
	}

	c.log.Info().
		Str("studyInstanceUid", studyID).
		Str("accessionNumber", newAccessionNumber).
		Msg("Rewrote accession number on dcm4chee")
	return studyID, nil
}

func (c *Client) query(ctx context.Context, accessionNumber string) ([]dataset, error) {
	return c.queryBy(ctx, tagAccessionNumber, accessionNumber)
}

func (c *Client) queryBy(ctx context.Context, tag, value string) ([]dataset, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam(tag, value).
		SetQueryParam("includefield", "all").
		Get(c.mwlPath())
	if err != nil {
		return nil, &pacs.ConnectionError{Backend: pacs.BackendDcm4chee, Op: "query mwlitems", Err: err}
	}
	// dcm4chee answers an empty result set with 204 and no body.
	if resp.StatusCode() == http.StatusNoContent {
		return nil, nil
	}
	if err := c.classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	var matches []dataset
	if err := json.Unmarshal(resp.Body(), &matches); err != nil {
		return nil, fmt.Errorf("failed to parse mwlitems response: %w", err)
	}
	return matches, nil
}

func (c *Client) classifyStatus(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &pacs.AuthError{Backend: pacs.BackendDcm4chee, Status: status}
	case status == http.StatusConflict:
		return &pacs.ConflictError{Backend: pacs.BackendDcm4chee}
	case status >= 400 && status < 500:
		return &pacs.ValidationError{Backend: pacs.BackendDcm4chee, Status: status, Body: body}
	default:
		return &pacs.ConnectionError{
			Backend: pacs.BackendDcm4chee,
			Op:      "request",
			Err:     fmt.Errorf("archive returned status %d: %s", status, body),
		}
	}
}

func studyUIDFromResponse(body []byte) string {
	var ds dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		return ""
	}
	return ds.str(tagStudyInstanceUID)
}
