// Package worklist builds the canonical, backend-agnostic Modality Worklist
// item from a joined RIS order. Items are ephemeral: constructed per sync
// attempt, handed to a backend adapter, never persisted.
package worklist

// Item is one Modality Worklist entry with DICOM-safe encodings already
// applied. Every date is exactly eight digits (YYYYMMDD) and every time
// exactly six (HHMMSS); the accession number is the idempotency and
// correlation key on the PACS side.
type Item struct {
	PatientID        string `json:"patientId"`
	PatientName      string `json:"patientName"`
	PatientBirthDate string `json:"patientBirthDate"`
	PatientSex       string `json:"patientSex"`

	AccessionNumber string `json:"accessionNumber"`

	RequestedProcedureDescription     string `json:"requestedProcedureDescription"`
	ScheduledProcedureStepDescription string `json:"scheduledProcedureStepDescription"`

	ScheduledStationAETitle string `json:"scheduledStationAETitle"`
	Modality                string `json:"modality"`

	ScheduledProcedureStepStartDate string `json:"scheduledProcedureStepStartDate"`
	ScheduledProcedureStepStartTime string `json:"scheduledProcedureStepStartTime"`

	ScheduledPerformingPhysicianName string `json:"scheduledPerformingPhysicianName,omitempty"`

	// Extended fields for backends that accept them (dcm4chee variant).
	ProcedureCode        string `json:"procedureCode,omitempty"`
	DiagnosisCode        string `json:"diagnosisCode,omitempty"`
	DiagnosisDescription string `json:"diagnosisDescription,omitempty"`
	PayerType            string `json:"payerType,omitempty"`
	ReferringPhysician   string `json:"referringPhysician,omitempty"`
}
