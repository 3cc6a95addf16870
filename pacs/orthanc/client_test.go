package orthanc

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

// fakeOrthanc is an in-memory stand-in for the Orthanc REST API.
type fakeOrthanc struct {
	mu       sync.Mutex
	username string
	password string
	studies  map[string]map[string]string // study id -> main dicom tags
	creates  int
	nextID   int
}

func newFakeOrthanc(username, password string) *fakeOrthanc {
	return &fakeOrthanc{
		username: username,
		password: password,
		studies:  make(map[string]map[string]string),
	}
}

func (f *fakeOrthanc) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/tools/find", f.handleFind).Methods(http.MethodPost)
	r.HandleFunc("/tools/create-dicom", f.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/modify", f.handleModify).Methods(http.MethodPost)
	return r
}

func (f *fakeOrthanc) authorized(r *http.Request) bool {
	if f.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == f.username && pass == f.password
}

func (f *fakeOrthanc) handleFind(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req findRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	matches := []findMatch{}
	for id, tags := range f.studies {
		if tags["AccessionNumber"] == req.Query["AccessionNumber"] {
			matches = append(matches, findMatch{
				ID:            id,
				MainDicomTags: tags,
				PatientMainDicomTags: map[string]string{
					"PatientID":   tags["PatientID"],
					"PatientName": tags["PatientName"],
				},
			})
		}
	}
	_ = json.NewEncoder(w).Encode(matches)
}

func (f *fakeOrthanc) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req createDicomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Tags) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Tags["AccessionNumber"] == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Message":"missing AccessionNumber"}`))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.nextID++
	studyID := "study-" + req.Tags["AccessionNumber"]
	f.studies[studyID] = req.Tags
	_ = json.NewEncoder(w).Encode(createDicomResponse{
		ID:          "instance-" + req.Tags["AccessionNumber"],
		ParentStudy: studyID,
	})
}

func (f *fakeOrthanc) handleModify(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]

	f.mu.Lock()
	defer f.mu.Unlock()
	tags, ok := f.studies[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req modifyRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	for tag, v := range req.Replace {
		tags[tag] = v
	}
	newID := id + "-modified"
	f.studies[newID] = tags
	delete(f.studies, id)
	_ = json.NewEncoder(w).Encode(modifyResponse{ID: newID})
}

func testItem() worklist.Item {
	return worklist.Item{
		PatientID:                       "MRN0007",
		PatientName:                     "Doe^John",
		PatientBirthDate:                "19800314",
		PatientSex:                      "M",
		AccessionNumber:                 "ACC123",
		RequestedProcedureDescription:   "CT Thorax",
		ScheduledStationAETitle:         "CT01",
		Modality:                        "CT",
		ScheduledProcedureStepStartDate: "20250601",
		ScheduledProcedureStepStartTime: "100000",
	}
}

func newTestClient(t *testing.T, f *fakeOrthanc, username, password string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:  srv.URL,
		Username: username,
		Password: password,
	}, zerolog.Nop()), srv
}

func TestPublishCreatesInstance(t *testing.T) {
	fake := newFakeOrthanc("orthanc", "secret")
	client, _ := newTestClient(t, fake, "orthanc", "secret")

	result, err := client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "study-ACC123", result.ExternalStudyID)
	assert.Equal(t, 1, fake.creates)
}

func TestPublishIsIdempotent(t *testing.T) {
	fake := newFakeOrthanc("orthanc", "secret")
	client, _ := newTestClient(t, fake, "orthanc", "secret")

	first, err := client.Publish(context.Background(), testItem())
	require.NoError(t, err)
	second, err := client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ExternalStudyID, second.ExternalStudyID)
	// Only the first call created anything on the backend.
	assert.Equal(t, 1, fake.creates)
}

func TestPublishAuthRejected(t *testing.T) {
	fake := newFakeOrthanc("orthanc", "secret")
	client, _ := newTestClient(t, fake, "orthanc", "wrong")

	_, err := client.Publish(context.Background(), testItem())
	var authErr *pacs.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.False(t, pacs.Retryable(err))
}

func TestPublishValidationRejected(t *testing.T) {
	fake := newFakeOrthanc("", "")
	client, _ := newTestClient(t, fake, "", "")

	item := testItem()
	item.AccessionNumber = ""
	_, err := client.Publish(context.Background(), item)

	var valErr *pacs.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.False(t, pacs.Retryable(err))
}

func TestPublishConnectionError(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, zerolog.Nop())

	_, err := client.Publish(context.Background(), testItem())
	var connErr *pacs.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.True(t, pacs.Retryable(err))
}

func TestQueryByAccession(t *testing.T) {
	fake := newFakeOrthanc("", "")
	client, _ := newTestClient(t, fake, "", "")

	_, err := client.QueryByAccession(context.Background(), "ACC123")
	assert.ErrorIs(t, err, pacs.ErrNotFound)

	_, err = client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	item, err := client.QueryByAccession(context.Background(), "ACC123")
	require.NoError(t, err)
	assert.Equal(t, "ACC123", item.AccessionNumber)
	assert.Equal(t, "MRN0007", item.PatientID)
	assert.Equal(t, "20250601", item.ScheduledProcedureStepStartDate)
}

func TestFindAndRenameAccession(t *testing.T) {
	fake := newFakeOrthanc("", "")
	client, _ := newTestClient(t, fake, "", "")

	_, err := client.Publish(context.Background(), testItem())
	require.NoError(t, err)

	ref, err := client.FindStudyByAccession(context.Background(), "ACC123")
	require.NoError(t, err)
	assert.Equal(t, "study-ACC123", ref.ID)
	assert.Equal(t, "ACC123", ref.AccessionNumber)

	newID, err := client.RenameAccession(context.Background(), ref.ID, "ACC999")
	require.NoError(t, err)
	assert.NotEmpty(t, newID)

	ref, err = client.FindStudyByAccession(context.Background(), "ACC999")
	require.NoError(t, err)
	assert.Equal(t, "ACC999", ref.AccessionNumber)

	_, err = client.FindStudyByAccession(context.Background(), "ACC123")
	assert.ErrorIs(t, err, pacs.ErrNotFound)
}
