package dcm4chee

import (
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/zorgnet/mwlsync/worklist"
)

// DICOM tag keys used in the dcm4chee JSON datasets.
const (
	tagAccessionNumber      = "00080050"
	tagModality             = "00080060"
	tagReferringPhysician   = "00080090"
	tagAdmittingDiagnoses   = "00081080"
	tagPatientName          = "00100010"
	tagPatientID            = "00100020"
	tagPatientBirthDate     = "00100030"
	tagPatientSex           = "00100040"
	tagStudyInstanceUID     = "0020000D"
	tagRequestingService    = "00321033"
	tagRequestedProcDesc    = "00321060"
	tagSPSSequence          = "00400100"
	tagStationAETitle       = "00400001"
	tagSPSStartDate         = "00400002"
	tagSPSStartTime         = "00400003"
	tagPerformingPhysician  = "00400006"
	tagSPSDescription       = "00400007"
	tagSPSID                = "00400009"
	tagRequestedProcedureID = "00401001"
	tagReasonForProcedure   = "00401002"
)

// tagValue is one attribute in DICOM JSON form.
type tagValue struct {
	VR    string `json:"vr"`
	Value []any  `json:"Value,omitempty"`
}

// dataset is a DICOM JSON dataset keyed by tag.
type dataset map[string]tagValue

func strValue(vr, v string) tagValue {
	if v == "" {
		return tagValue{VR: vr}
	}
	return tagValue{VR: vr, Value: []any{v}}
}

func pnValue(v string) tagValue {
	if v == "" {
		return tagValue{VR: "PN"}
	}
	return tagValue{VR: "PN", Value: []any{map[string]any{"Alphabetic": v}}}
}

// str extracts the first string value of a tag.
func (d dataset) str(tag string) string {
	tv, ok := d[tag]
	if !ok || len(tv.Value) == 0 {
		return ""
	}
	s, _ := tv.Value[0].(string)
	return s
}

// personName extracts the alphabetic group of a PN tag.
func (d dataset) personName(tag string) string {
	tv, ok := d[tag]
	if !ok || len(tv.Value) == 0 {
		return ""
	}
	m, ok := tv.Value[0].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["Alphabetic"].(string)
	return s
}

// sps extracts the first item of the scheduled-procedure-step sequence.
func (d dataset) sps() dataset {
	tv, ok := d[tagSPSSequence]
	if !ok || len(tv.Value) == 0 {
		return dataset{}
	}
	raw, ok := tv.Value[0].(map[string]any)
	if !ok {
		return dataset{}
	}
	item := dataset{}
	for tag, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		vr, _ := m["vr"].(string)
		values, _ := m["Value"].([]any)
		item[tag] = tagValue{VR: vr, Value: values}
	}
	return item
}

// datasetFromItem renders a worklist item as the dcm4chee MWL create payload.
func datasetFromItem(item worklist.Item, studyUID string) dataset {
	sps := dataset{
		tagStationAETitle: strValue("AE", item.ScheduledStationAETitle),
		tagModality:       strValue("CS", item.Modality),
		tagSPSStartDate:   strValue("DA", item.ScheduledProcedureStepStartDate),
		tagSPSStartTime:   strValue("TM", item.ScheduledProcedureStepStartTime),
		tagSPSDescription: strValue("LO", item.ScheduledProcedureStepDescription),
		tagSPSID:          strValue("SH", item.AccessionNumber),
	}
	if item.ScheduledPerformingPhysicianName != "" {
		sps[tagPerformingPhysician] = pnValue(item.ScheduledPerformingPhysicianName)
	}

	ds := dataset{
		tagAccessionNumber:      strValue("SH", item.AccessionNumber),
		tagPatientName:          pnValue(item.PatientName),
		tagPatientID:            strValue("LO", item.PatientID),
		tagPatientBirthDate:     strValue("DA", item.PatientBirthDate),
		tagPatientSex:           strValue("CS", item.PatientSex),
		tagStudyInstanceUID:     strValue("UI", studyUID),
		tagRequestedProcDesc:    strValue("LO", item.RequestedProcedureDescription),
		tagRequestedProcedureID: strValue("SH", item.AccessionNumber),
		tagSPSSequence:          {VR: "SQ", Value: []any{sps}},
	}

	if item.ReferringPhysician != "" {
		ds[tagReferringPhysician] = pnValue(item.ReferringPhysician)
	}
	if item.DiagnosisDescription != "" {
		ds[tagAdmittingDiagnoses] = strValue("LO", item.DiagnosisDescription)
	}
	if item.DiagnosisCode != "" {
		reason := item.DiagnosisCode
		if item.DiagnosisDescription != "" {
			reason += " " + item.DiagnosisDescription
		}
		ds[tagReasonForProcedure] = strValue("LO", reason)
	}
	// Payer type travels in RequestingService, the convention the downstream
	// billing export reads it back from.
	if item.PayerType != "" {
		ds[tagRequestingService] = strValue("LO", item.PayerType)
	}

	return ds
}

// itemFromDataset maps a queried MWL dataset back onto a worklist item.
func itemFromDataset(ds dataset) worklist.Item {
	sps := ds.sps()
	return worklist.Item{
		AccessionNumber:                   ds.str(tagAccessionNumber),
		PatientID:                         ds.str(tagPatientID),
		PatientName:                       ds.personName(tagPatientName),
		PatientBirthDate:                  ds.str(tagPatientBirthDate),
		PatientSex:                        ds.str(tagPatientSex),
		RequestedProcedureDescription:     ds.str(tagRequestedProcDesc),
		ScheduledProcedureStepDescription: sps.str(tagSPSDescription),
		ScheduledStationAETitle:           sps.str(tagStationAETitle),
		Modality:                          sps.str(tagModality),
		ScheduledProcedureStepStartDate:   sps.str(tagSPSStartDate),
		ScheduledProcedureStepStartTime:   sps.str(tagSPSStartTime),
		ScheduledPerformingPhysicianName:  sps.personName(tagPerformingPhysician),
		DiagnosisDescription:              ds.str(tagAdmittingDiagnoses),
		PayerType:                         ds.str(tagRequestingService),
	}
}

// NewStudyInstanceUID derives a DICOM UID under the 2.25 UUID root, the
// standard encoding of a random UUID as an OID.
func NewStudyInstanceUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return "2.25." + n.String()
}

// isUID reports whether s looks like a dotted-decimal UID.
func isUID(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
