package dcm4chee

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStudyInstanceUID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		uid := NewStudyInstanceUID()
		assert.Regexp(t, `^2\.25\.\d+$`, uid)
		assert.True(t, isUID(uid))
		// DICOM UIDs are capped at 64 characters; 2.25.<128-bit decimal>
		// stays at 44 or less.
		assert.LessOrEqual(t, len(uid), 64)
		assert.False(t, seen[uid], "generated UID collision")
		seen[uid] = true
	}
}

func TestIsUID(t *testing.T) {
	assert.True(t, isUID("1.2.840.10008.5.1.4.31"))
	assert.False(t, isUID(""))
	assert.False(t, isUID("1..2"))
	assert.False(t, isUID("1.2.abc"))
	assert.False(t, isUID("not-a-uid"))
}

func TestDatasetRoundTrip(t *testing.T) {
	ds := datasetFromItem(testItem(), "2.25.42")

	// Survive JSON marshalling the way the wire sees it.
	b, err := json.Marshal(ds)
	require.NoError(t, err)
	var back dataset
	require.NoError(t, json.Unmarshal(b, &back))

	item := itemFromDataset(back)
	assert.Equal(t, "ACC123", item.AccessionNumber)
	assert.Equal(t, "Doe^John", item.PatientName)
	assert.Equal(t, "19800314", item.PatientBirthDate)
	assert.Equal(t, "M", item.PatientSex)
	assert.Equal(t, "CT01", item.ScheduledStationAETitle)
	assert.Equal(t, "CT", item.Modality)
	assert.Equal(t, "20250601", item.ScheduledProcedureStepStartDate)
	assert.Equal(t, "100000", item.ScheduledProcedureStepStartTime)
	assert.Equal(t, "2.25.42", back.str(tagStudyInstanceUID))
}

func TestDatasetOmitsEmptyOptionalTags(t *testing.T) {
	item := testItem()
	item.ScheduledPerformingPhysicianName = ""
	item.DiagnosisCode = ""
	item.DiagnosisDescription = ""
	item.PayerType = ""
	item.ReferringPhysician = ""

	ds := datasetFromItem(item, "2.25.42")
	_, hasDiag := ds[tagAdmittingDiagnoses]
	assert.False(t, hasDiag)
	_, hasPayer := ds[tagRequestingService]
	assert.False(t, hasPayer)
	_, hasRef := ds[tagReferringPhysician]
	assert.False(t, hasRef)
}
