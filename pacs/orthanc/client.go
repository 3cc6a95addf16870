// Package orthanc publishes worklist items to an Orthanc-style DICOM-creation
// REST façade.
//
// Orthanc has no native Modality Worklist object over its REST API. The
// adapter approximates one by creating a zero-image DICOM instance whose tags
// satisfy MWL query matching (/tools/create-dicom). This is a deliberate
// capability limitation of the variant, not something the adapter hides:
// richer worklist fields (diagnosis coding, payer type) are simply not sent.
package orthanc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/zorgnet/mwlsync/pacs"
	"github.com/zorgnet/mwlsync/worklist"
)

// Config carries everything needed to reach one Orthanc installation.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	RetryMax int
}

// Client is the Orthanc adapter. Implements pacs.Publisher and
// pacs.StudyModifier.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates an Orthanc adapter backed by a retrying HTTP client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		cfg:        cfg,
		httpClient: retryClient.StandardClient(),
		log:        log.With().Str("backend", pacs.BackendOrthanc).Logger(),
	}
}

func (c *Client) Name() string { return pacs.BackendOrthanc }

// createDicomRequest is the /tools/create-dicom body: worklist attributes as
// instance tags, no pixel data.
type createDicomRequest struct {
	Tags map[string]string `json:"Tags"`
}

type createDicomResponse struct {
	ID          string `json:"ID"`
	ParentStudy string `json:"ParentStudy"`
	Path        string `json:"Path"`
}

// findRequest is the /tools/find body.
type findRequest struct {
	Level  string            `json:"Level"`
	Expand bool              `json:"Expand"`
	Query  map[string]string `json:"Query"`
}

type findMatch struct {
	ID                     string            `json:"ID"`
	MainDicomTags          map[string]string `json:"MainDicomTags"`
	PatientMainDicomTags   map[string]string `json:"PatientMainDicomTags"`
}

// Publish creates the zero-image instance carrying the worklist tags. Orthanc
// happily creates a second instance for the same accession number, so the
// adapter itself enforces idempotency: an existing study with this accession
// number turns the call into a duplicate-flagged success.
func (c *Client) Publish(ctx context.Context, item worklist.Item) (pacs.PublishResult, error) {
	result := pacs.PublishResult{
		AccessionNumber: item.AccessionNumber,
		Backend:         pacs.BackendOrthanc,
	}

	existing, err := c.findStudy(ctx, item.AccessionNumber)
	if err != nil {
		return result, err
	}
	if existing != nil {
		c.log.Debug().
			Str("accessionNumber", item.AccessionNumber).
			Str("studyId", existing.ID).
			Msg("Accession number already present, treating publish as duplicate success")
		result.Success = true
		result.Duplicate = true
		result.ExternalStudyID = existing.ID
		return result, nil
	}

	req := createDicomRequest{Tags: instanceTags(item)}
	var resp createDicomResponse
	if err := c.post(ctx, "/tools/create-dicom", req, &resp); err != nil {
		return result, err
	}

	c.log.Info().
		Str("accessionNumber", item.AccessionNumber).
		Str("instanceId", resp.ID).
		Str("studyId", resp.ParentStudy).
		Msg("Created worklist instance on Orthanc")

	result.Success = true
	result.ExternalStudyID = resp.ParentStudy
	return result, nil
}

// instanceTags flattens the worklist item into Orthanc simplified tag names.
// Scheduled-step attributes are emitted as flat study-level tags; a true SPS
// sequence is not representable through create-dicom.
func instanceTags(item worklist.Item) map[string]string {
	tags := map[string]string{
		"PatientID":                     item.PatientID,
		"PatientName":                   item.PatientName,
		"PatientBirthDate":              item.PatientBirthDate,
		"PatientSex":                    item.PatientSex,
		"AccessionNumber":               item.AccessionNumber,
		"Modality":                      item.Modality,
		"StudyDescription":              item.RequestedProcedureDescription,
		"RequestedProcedureDescription": item.RequestedProcedureDescription,
		"StationName":                   item.ScheduledStationAETitle,
		"StudyDate":                     item.ScheduledProcedureStepStartDate,
		"StudyTime":                     item.ScheduledProcedureStepStartTime,
	}
	if item.ScheduledPerformingPhysicianName != "" {
		tags["PerformingPhysicianName"] = item.ScheduledPerformingPhysicianName
	}
	return tags
}

// QueryByAccession finds the study for an accession number and maps its tags
// back onto a worklist item.
func (c *Client) QueryByAccession(ctx context.Context, accessionNumber string) (*worklist.Item, error) {
	match, err := c.findStudy(ctx, accessionNumber)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, pacs.ErrNotFound
	}

	item := &worklist.Item{
		AccessionNumber:                 accessionNumber,
		PatientID:                       match.PatientMainDicomTags["PatientID"],
		PatientName:                     match.PatientMainDicomTags["PatientName"],
		PatientBirthDate:                match.PatientMainDicomTags["PatientBirthDate"],
		PatientSex:                      match.PatientMainDicomTags["PatientSex"],
		RequestedProcedureDescription:   match.MainDicomTags["StudyDescription"],
		ScheduledProcedureStepStartDate: match.MainDicomTags["StudyDate"],
		ScheduledProcedureStepStartTime: match.MainDicomTags["StudyTime"],
	}
	return item, nil
}

// FindStudyByAccession is the repair lookup surface.
func (c *Client) FindStudyByAccession(ctx context.Context, accessionNumber string) (*pacs.StudyRef, error) {
	match, err := c.findStudy(ctx, accessionNumber)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, pacs.ErrNotFound
	}
	return &pacs.StudyRef{
		ID:               match.ID,
		StudyInstanceUID: match.MainDicomTags["StudyInstanceUID"],
		AccessionNumber:  match.MainDicomTags["AccessionNumber"],
		PatientName:      match.PatientMainDicomTags["PatientName"],
		PatientID:        match.PatientMainDicomTags["PatientID"],
	}, nil
}

type modifyRequest struct {
	Replace    map[string]string `json:"Replace"`
	Force      bool              `json:"Force"`
	KeepSource bool              `json:"KeepSource"`
}

type modifyResponse struct {
	ID string `json:"ID"`
}

// RenameAccession rewrites the accession number on an already published
// study. Orthanc creates a modified copy and drops the source, so the
// returned study identifier differs from the input.
func (c *Client) RenameAccession(ctx context.Context, studyID, newAccessionNumber string) (string, error) {
	req := modifyRequest{
		Replace:    map[string]string{"AccessionNumber": newAccessionNumber},
		Force:      true,
		KeepSource: false,
	}
	var resp modifyResponse
	if err := c.post(ctx, fmt.Sprintf("/studies/%s/modify", studyID), req, &resp); err != nil {
		return "", err
	}
	c.log.Info().
		Str("studyId", studyID).
		Str("newStudyId", resp.ID).
		Str("accessionNumber", newAccessionNumber).
		Msg("Rewrote accession number on Orthanc")
	return resp.ID, nil
}

func (c *Client) findStudy(ctx context.Context, accessionNumber string) (*findMatch, error) {
	req := findRequest{
		Level:  "Study",
		Expand: true,
		Query:  map[string]string{"AccessionNumber": accessionNumber},
	}
	var matches []findMatch
	if err := c.post(ctx, "/tools/find", req, &matches); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// post sends a JSON request with Basic auth and decodes the JSON response.
// Non-2xx statuses map onto the shared backend error taxonomy.
func (c *Client) post(ctx context.Context, endpoint string, body, response any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body for %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &pacs.ConnectionError{Backend: pacs.BackendOrthanc, Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &pacs.ConnectionError{Backend: pacs.BackendOrthanc, Op: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classifyStatus(resp.StatusCode, bodyBytes)
	}

	if response != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, response); err != nil {
			return fmt.Errorf("failed to parse response from %s: %w", endpoint, err)
		}
	}
	return nil
}

func (c *Client) classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &pacs.AuthError{Backend: pacs.BackendOrthanc, Status: status}
	case status == http.StatusConflict:
		return &pacs.ConflictError{Backend: pacs.BackendOrthanc}
	case status >= 400 && status < 500:
		return &pacs.ValidationError{Backend: pacs.BackendOrthanc, Status: status, Body: string(body)}
	default:
		return &pacs.ConnectionError{
			Backend: pacs.BackendOrthanc,
			Op:      "request",
			Err:     fmt.Errorf("server returned status %d: %s", status, string(body)),
		}
	}
}
