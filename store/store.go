// Package store reads orders and their joined records from the RIS database
// and writes back sync correlation results. Everything else about the
// relational schema (CRUD, migrations, registries) is owned elsewhere.
package store

import (
	"context"
	"time"

	"github.com/zorgnet/mwlsync/models/ris"
)

// Filter narrows the order selection for one sync run.
type Filter struct {
	OrderID         int64
	AccessionNumber string
	Statuses        []string
	From            *time.Time
	To              *time.Time
	Limit           int
}

// OrderStore is the order-side surface the sync engine consumes.
type OrderStore interface {
	// SelectOrders returns candidate orders matching the filter, newest first.
	SelectOrders(ctx context.Context, f Filter) ([]ris.Order, error)

	// GetOrderBundle returns one order with its joined patient, practitioner,
	// modality and procedure-code records.
	GetOrderBundle(ctx context.Context, orderID int64) (*ris.OrderBundle, error)

	// GetStudyID re-reads the current study id of an order. Used as the
	// write-back guard immediately before SetStudyID.
	GetStudyID(ctx context.Context, orderID int64) (*string, error)

	// SetStudyID persists the backend-confirmed external study identifier.
	SetStudyID(ctx context.Context, orderID int64, studyID string) error
}
