package worklist

import (
	"fmt"
	"time"

	"github.com/zorgnet/mwlsync/dicomvr"
	"github.com/zorgnet/mwlsync/models/ris"
)

// MappingError means the source order is incomplete or inconsistent and can
// never produce a valid worklist item. It is per-order fatal: the batch
// continues with the next order.
type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot map order to worklist item: %s: %s", e.Field, e.Reason)
}

// BuildOptions controls the parts of mapping that are policy rather than data.
type BuildOptions struct {
	// AllowDefaultSchedule permits falling back to Now when the order has no
	// confirmed schedule. Automatic sync paths leave this off: an unscheduled
	// order is then a MappingError instead of silently getting "now".
	AllowDefaultSchedule bool

	// Now supplies the clock for the default-schedule fallback. Defaults to
	// time.Now when nil.
	Now func() time.Time
}

// BuildItem maps a fully joined order onto a worklist Item. Pure
// transformation, no I/O; same input yields the same output (modulo the
// injected clock when the default-schedule fallback is allowed).
func BuildItem(b ris.OrderBundle, opts BuildOptions) (Item, error) {
	if b.Order.AccessionNumber == "" {
		return Item{}, &MappingError{Field: "accessionNumber", Reason: "empty; an order must never be published without one"}
	}

	aet, err := selectAETitle(b.Modality)
	if err != nil {
		return Item{}, err
	}

	scheduledAt, err := resolveSchedule(b.Order, opts)
	if err != nil {
		return Item{}, err
	}

	startDate, err := dicomvr.EncodeDate(scheduledAt)
	if err != nil {
		return Item{}, &MappingError{Field: "scheduledProcedureStepStartDate", Reason: err.Error()}
	}
	startTime, err := dicomvr.EncodeTime(scheduledAt)
	if err != nil {
		return Item{}, &MappingError{Field: "scheduledProcedureStepStartTime", Reason: err.Error()}
	}

	birthDate, err := dicomvr.EncodeDate(b.Patient.BirthDate)
	if err != nil {
		return Item{}, &MappingError{Field: "patientBirthDate", Reason: err.Error()}
	}

	item := Item{
		PatientID:        b.Patient.MedicalRecordNumber,
		PatientName:      dicomvr.EncodePersonName(b.Patient.Name),
		PatientBirthDate: birthDate,
		PatientSex:       dicomvr.EncodeSex(b.Patient.Sex),

		AccessionNumber: b.Order.AccessionNumber,

		RequestedProcedureDescription:     b.Procedure.ProcedureDescription,
		ScheduledProcedureStepDescription: b.Procedure.ProcedureDescription,

		ScheduledStationAETitle: aet,
		Modality:                b.Modality.Code,

		ScheduledProcedureStepStartDate: startDate,
		ScheduledProcedureStepStartTime: startTime,

		ProcedureCode:        b.Procedure.ProcedureCode,
		DiagnosisCode:        b.Procedure.DiagnosisCode,
		DiagnosisDescription: b.Procedure.DiagnosisDescription,
		PayerType:            b.Order.PayerType,
	}

	if b.Practitioner.Name != "" {
		name := dicomvr.EncodePersonName(b.Practitioner.Name)
		item.ScheduledPerformingPhysicianName = name
		item.ReferringPhysician = name
	}

	return item, nil
}

// selectAETitle picks the single target AE title deterministically: the
// modality's preferred title when configured, else the first-listed one.
func selectAETitle(m ris.Modality) (string, error) {
	if m.PreferredAETitle != nil && *m.PreferredAETitle != "" {
		return *m.PreferredAETitle, nil
	}
	if len(m.AETitles) == 0 || m.AETitles[0] == "" {
		return "", &MappingError{Field: "scheduledStationAETitle", Reason: fmt.Sprintf("modality %s has no AE title", m.Code)}
	}
	return m.AETitles[0], nil
}

func resolveSchedule(o ris.Order, opts BuildOptions) (time.Time, error) {
	if o.ScheduledAt != nil && !o.ScheduledAt.IsZero() {
		return o.ScheduledAt.Local(), nil
	}
	if !opts.AllowDefaultSchedule {
		return time.Time{}, &MappingError{Field: "scheduledAt", Reason: "order has no confirmed schedule and default scheduling is not allowed"}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return now(), nil
}
