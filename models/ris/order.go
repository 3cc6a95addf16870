// Package ris holds the row types read from the RIS relational store. The
// store itself (schema, migrations, CRUD) is owned elsewhere; this core only
// joins these records to build worklist items.
package ris

import "time"

// Order statuses relevant to worklist synchronization. The store carries more
// statuses than these; only orders still awaiting or scheduled for imaging are
// eligible for publication by default.
const (
	StatusInRequest  = "IN_REQUEST"
	StatusScheduled  = "SCHEDULED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

// KnownStatuses lists every order status the selection filter accepts.
var KnownStatuses = []string{
	StatusInRequest,
	StatusScheduled,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

// Order is a requested procedure as stored in the RIS. AccessionNumber is
// assigned at creation and immutable once sent; StudyID is null until the
// first successful sync writes back the externally assigned identifier.
type Order struct {
	ID              int64      `db:"id" json:"id"`
	AccessionNumber string     `db:"accession_number" json:"accessionNumber"`
	Status          string     `db:"status" json:"status"`
	StudyID         *string    `db:"study_id" json:"studyId,omitempty"`
	ModalityCode    string     `db:"modality_code" json:"modalityCode"`
	PayerType       string     `db:"payer_type" json:"payerType"`
	PatientID       int64      `db:"patient_id" json:"patientId"`
	PractitionerID  int64      `db:"practitioner_id" json:"practitionerId"`
	DetailID        int64      `db:"detail_id" json:"detailId"`
	ScheduledAt     *time.Time `db:"scheduled_at" json:"scheduledAt,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

// Patient is the demographic record joined onto an order. Read-only here.
type Patient struct {
	ID                  int64     `db:"id" json:"id"`
	MedicalRecordNumber string    `db:"mrn" json:"medicalRecordNumber"`
	Name                string    `db:"name" json:"name"`
	BirthDate           time.Time `db:"birth_date" json:"birthDate"`
	Sex                 string    `db:"sex" json:"sex"`
}

// Practitioner is the referring or performing clinician joined onto an order.
type Practitioner struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Role string `db:"role" json:"role"`
}

// Modality is a physical device registry entry. A device can answer to more
// than one Application Entity Title; PreferredAETitle, when set, pins the one
// worklist items are addressed to.
type Modality struct {
	ID               int64    `db:"id" json:"id"`
	Code             string   `db:"code" json:"code"`
	AETitles         []string `db:"-" json:"aeTitles"`
	PreferredAETitle *string  `db:"preferred_ae_title" json:"preferredAeTitle,omitempty"`
}

// ProcedureCode carries the diagnosis and procedure coding attached to an
// order's detail record.
type ProcedureCode struct {
	ID                   int64  `db:"id" json:"id"`
	ProcedureCode        string `db:"procedure_code" json:"procedureCode"`
	ProcedureDescription string `db:"procedure_description" json:"procedureDescription"`
	DiagnosisCode        string `db:"diagnosis_code" json:"diagnosisCode"`
	DiagnosisDescription string `db:"diagnosis_description" json:"diagnosisDescription"`
}

// OrderBundle is the fully joined view of one order, everything the worklist
// mapper needs in a single read.
type OrderBundle struct {
	Order        Order
	Patient      Patient
	Practitioner Practitioner
	Modality     Modality
	Procedure    ProcedureCode
}
