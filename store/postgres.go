package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/zorgnet/mwlsync/models/ris"
)

// PostgresStore is the sqlx-backed OrderStore implementation.
type PostgresStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// NewPostgresStore creates a PostgresStore on an open connection.
func NewPostgresStore(db *sqlx.DB, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// Connect opens the RIS database.
func Connect(dsn string, log zerolog.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the RIS database: %w", err)
	}
	return NewPostgresStore(db, log), nil
}

// Close closes the underlying connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const selectOrdersBase = `
SELECT id, accession_number, status, study_id, modality_code, payer_type,
       patient_id, practitioner_id, detail_id, scheduled_at, created_at, updated_at
FROM orders`

// SelectOrders builds the selection query from the filter. Results are newest
// first; re-runs therefore pick up recent failures before old backlog.
func (s *PostgresStore) SelectOrders(ctx context.Context, f Filter) ([]ris.Order, error) {
	var (
		clauses []string
		args    []interface{}
	)

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.OrderID != 0 {
		add("id = $%d", f.OrderID)
	}
	if f.AccessionNumber != "" {
		add("accession_number = $%d", f.AccessionNumber)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", pq.Array(f.Statuses))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	query := selectOrdersBase
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var orders []ris.Order
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select orders: %w", err)
	}

	s.log.Debug().
		Int("count", len(orders)).
		Interface("filter", f).
		Msg("Selected candidate orders")
	return orders, nil
}

const getOrderQuery = selectOrdersBase + ` WHERE id = $1`

const getPatientQuery = `
SELECT id, mrn, name, birth_date, sex FROM patients WHERE id = $1`

const getPractitionerQuery = `
SELECT id, name, role FROM practitioners WHERE id = $1`

const getModalityQuery = `
SELECT m.id, m.code, m.preferred_ae_title, m.ae_titles
FROM modalities m WHERE m.code = $1`

const getProcedureQuery = `
SELECT id, procedure_code, procedure_description, diagnosis_code, diagnosis_description
FROM order_details WHERE id = $1`

// GetOrderBundle joins the order with its patient, practitioner, modality and
// procedure-code records.
func (s *PostgresStore) GetOrderBundle(ctx context.Context, orderID int64) (*ris.OrderBundle, error) {
	var b ris.OrderBundle

	if err := s.db.GetContext(ctx, &b.Order, getOrderQuery, orderID); err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}
	if err := s.db.GetContext(ctx, &b.Patient, getPatientQuery, b.Order.PatientID); err != nil {
		return nil, fmt.Errorf("failed to load patient for order %d: %w", orderID, err)
	}
	if err := s.db.GetContext(ctx, &b.Practitioner, getPractitionerQuery, b.Order.PractitionerID); err != nil {
		return nil, fmt.Errorf("failed to load practitioner for order %d: %w", orderID, err)
	}
	if err := s.getModality(ctx, b.Order.ModalityCode, &b.Modality); err != nil {
		return nil, fmt.Errorf("failed to load modality for order %d: %w", orderID, err)
	}
	if err := s.db.GetContext(ctx, &b.Procedure, getProcedureQuery, b.Order.DetailID); err != nil {
		return nil, fmt.Errorf("failed to load procedure detail for order %d: %w", orderID, err)
	}

	return &b, nil
}

// getModality scans the AE title array column into the plain string slice the
// model carries.
func (s *PostgresStore) getModality(ctx context.Context, code string, m *ris.Modality) error {
	var titles pq.StringArray
	row := s.db.QueryRowxContext(ctx, getModalityQuery, code)
	if err := row.Scan(&m.ID, &m.Code, &m.PreferredAETitle, &titles); err != nil {
		return err
	}
	m.AETitles = []string(titles)
	return nil
}

// GetStudyID re-reads the current study id of an order.
func (s *PostgresStore) GetStudyID(ctx context.Context, orderID int64) (*string, error) {
	var studyID sql.NullString
	err := s.db.GetContext(ctx, &studyID, `SELECT study_id FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to read study id of order %d: %w", orderID, err)
	}
	if !studyID.Valid {
		return nil, nil
	}
	return &studyID.String, nil
}

// SetStudyID persists the backend-confirmed external study identifier.
func (s *PostgresStore) SetStudyID(ctx context.Context, orderID int64, studyID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET study_id = $1, updated_at = now() WHERE id = $2`,
		studyID, orderID)
	if err != nil {
		return fmt.Errorf("failed to write back study id for order %d: %w", orderID, err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("order %d not found for study id write-back", orderID)
	}
	s.log.Debug().
		Int64("orderId", orderID).
		Str("studyId", studyID).
		Msg("Wrote back external study id")
	return nil
}
