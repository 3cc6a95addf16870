package dcm4chee

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zorgnet/mwlsync/pacs"
	"github.com/zorgnet/mwlsync/worklist"
)

// fakeArchive is an in-memory stand-in for the dcm4chee MWL REST API.
type fakeArchive struct {
	mu      sync.Mutex
	items   map[string]dataset // accession number -> dataset
	creates int
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{items: make(map[string]dataset)}
}

func (f *fakeArchive) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/dcm4chee-arc/aets/{aet}/rs/mwlitems", f.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/dcm4chee-arc/aets/{aet}/rs/mwlitems", f.handleQuery).Methods(http.MethodGet)
	return r
}

func (f *fakeArchive) handleCreate(w http.ResponseWriter, r *http.Request) {
	var ds dataset
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	acc := ds.str(tagAccessionNumber)
	if acc == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("missing accession number"))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.items[acc]; ok {
		// Updates address an existing item by its study UID.
		if existing.str(tagStudyInstanceUID) != ds.str(tagStudyInstanceUID) {
			w.WriteHeader(http.StatusConflict)
			return
		}
	} else {
		f.creates++
	}
	// The item may carry a rewritten accession number; reindex.
	for key, item := range f.items {
		if item.str(tagStudyInstanceUID) == ds.str(tagStudyInstanceUID) {
			delete(f.items, key)
		}
	}
	f.items[acc] = ds

	w.Header().Set("Content-Type", "application/dicom+json")
	_ = json.NewEncoder(w).Encode(ds)
}

func (f *fakeArchive) handleQuery(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []dataset
	if acc := r.URL.Query().Get(tagAccessionNumber); acc != "" {
		if ds, ok := f.items[acc]; ok {
			matches = append(matches, ds)
		}
	}
	if uid := r.URL.Query().Get(tagStudyInstanceUID); uid != "" {
		for _, ds := range f.items {
			if ds.str(tagStudyInstanceUID) == uid {
				matches = append(matches, ds)
			}
		}
	}

	if len(matches) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/dicom+json")
	_ = json.NewEncoder(w).Encode(matches)
}

func testItem() worklist.Item {
	return worklist.Item{
		PatientID:                         "MRN0007",
		PatientName:                       "Doe^John",
		PatientBirthDate:                  "19800314",
		PatientSex:                        "M",
		AccessionNumber:                   "ACC123",
		RequestedProcedureDescription:     "CT Thorax",
		ScheduledProcedureStepDescription: "CT Thorax",
		ScheduledStationAETitle:           "CT01",
		Modality:                          "CT",
		ScheduledProcedureStepStartDate:   "20250601",
		ScheduledProcedureStepStartTime:   "100000",
		ScheduledPerformingPhysicianName:  "Jansen^Piet",
		DiagnosisCode:                     "J18.9",
		DiagnosisDescription:              "Pneumonia",
		PayerType:                         "INSURANCE",
	}
}

func newTestClient(t *testing.T, f *fakeArchive) *Client {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL: srv.URL,
		AETitle: "DCM4CHEE",
	}, zerolog.Nop())
}

func TestPublishCreatesMWLItem(t *testing.T) {
	fake := newFakeArchive()
	client := newTestClient(t, fake)

	result, err := client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Duplicate)
	// The confirmed study UID is the pre-assigned 2.25 OID.
	assert.Regexp(t, `^2\.25\.\d+$`, result.ExternalStudyID)
	assert.Equal(t, 1, fake.creates)

	stored := fake.items["ACC123"]
	require.NotNil(t, stored)
	assert.Equal(t, "ACC123", stored.str(tagAccessionNumber))
	assert.Equal(t, "INSURANCE", stored.str(tagRequestingService))
	sps := stored.sps()
	assert.Equal(t, "CT01", sps.str(tagStationAETitle))
	assert.Equal(t, "CT", sps.str(tagModality))
	assert.Equal(t, "20250601", sps.str(tagSPSStartDate))
}

func TestPublishDuplicateIsSuccess(t *testing.T) {
	fake := newFakeArchive()
	client := newTestClient(t, fake)

	first, err := client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	// A second publish pre-assigns a fresh study UID, so the archive answers
	// with a conflict on the accession number.
	second, err := client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ExternalStudyID, second.ExternalStudyID)
	assert.Equal(t, 1, fake.creates)
}

func TestQueryByAccession(t *testing.T) {
	fake := newFakeArchive()
	client := newTestClient(t, fake)

	_, err := client.QueryByAccession(context.Background(), "ACC123")
	assert.ErrorIs(t, err, pacs.ErrNotFound)

	_, err = client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	item, err := client.QueryByAccession(context.Background(), "ACC123")
	require.NoError(t, err)
	assert.Equal(t, "ACC123", item.AccessionNumber)
	assert.Equal(t, "Doe^John", item.PatientName)
	assert.Equal(t, "CT01", item.ScheduledStationAETitle)
	assert.Equal(t, "CT", item.Modality)
	assert.Equal(t, "20250601", item.ScheduledProcedureStepStartDate)
	assert.Equal(t, "100000", item.ScheduledProcedureStepStartTime)
	assert.Equal(t, "Jansen^Piet", item.ScheduledPerformingPhysicianName)
	assert.Equal(t, "INSURANCE", item.PayerType)
}

func TestRenameAccession(t *testing.T) {
	fake := newFakeArchive()
	client := newTestClient(t, fake)

	result, err := client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	newID, err := client.RenameAccession(context.Background(), result.ExternalStudyID, "ACC999")
	require.NoError(t, err)
	assert.Equal(t, result.ExternalStudyID, newID)

	item, err := client.QueryByAccession(context.Background(), "ACC999")
	require.NoError(t, err)
	assert.Equal(t, "ACC999", item.AccessionNumber)

	_, err = client.QueryByAccession(context.Background(), "ACC123")
	assert.ErrorIs(t, err, pacs.ErrNotFound)
}

func TestRenameAccessionRejectsBadUID(t *testing.T) {
	client := newTestClient(t, newFakeArchive())
	_, err := client.RenameAccession(context.Background(), "not-a-uid", "ACC999")
	assert.Error(t, err)
}

func TestPublishConnectionError(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", AETitle: "DCM4CHEE"}, zerolog.Nop())

	_, err := client.Publish(context.Background(), testItem())
	var connErr *pacs.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.True(t, pacs.Retryable(err))
}
