package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// ledgerTimeLayout is fixed-width UTC so stored timestamps sort lexically.
const ledgerTimeLayout = "2006-01-02T15:04:05.000000Z"

// Payment is one gateway payment that was credited to a user.
type Payment struct {
	PaymentID string
	OrderID   string
	UserID    string
	Credits   int
	CreatedAt time.Time
}

// Ledger remembers processed payments so each one is credited once.
type Ledger interface {
	// Record claims p.PaymentID. It returns ErrPaymentProcessed when the
	// payment was claimed before.
	Record(ctx context.Context, p *Payment) error
	// Release drops a claim whose credits could not be applied.
	Release(ctx context.Context, paymentID string) error
}

type paymentRow struct {
	PaymentID string `db:"payment_id"`
	OrderID   string `db:"order_id"`
	UserID    string `db:"user_id"`
	Credits   int    `db:"credits"`
	CreatedAt string `db:"created_at"`
}

// SQLiteLedger implements Ledger with sqlx over SQLite.
type SQLiteLedger struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteLedger creates a payment ledger.
func NewSQLiteLedger(db *sqlx.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db, now: time.Now}
}

// Record implements Ledger.
func (l *SQLiteLedger) Record(ctx context.Context, p *Payment) error {
	p.CreatedAt = l.now().UTC()
	_, err := l.db.NamedExecContext(ctx,
		`INSERT INTO payments (payment_id, order_id, user_id, credits, created_at)
		 VALUES (:payment_id, :order_id, :user_id, :credits, :created_at)`,
		paymentRow{
			PaymentID: p.PaymentID,
			OrderID:   p.OrderID,
			UserID:    p.UserID,
			Credits:   p.Credits,
			CreatedAt: p.CreatedAt.Format(ledgerTimeLayout),
		})
	if isConstraintViolation(err) {
		return ErrPaymentProcessed
	}
	if err != nil {
		return fmt.Errorf("recording payment: %w", err)
	}
	return nil
}

// Release implements Ledger.
func (l *SQLiteLedger) Release(ctx context.Context, paymentID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM payments WHERE payment_id = ?`, paymentID); err != nil {
		return fmt.Errorf("releasing payment: %w", err)
	}
	return nil
}

// Get returns the recorded payment, or ErrPaymentNotFound.
func (l *SQLiteLedger) Get(ctx context.Context, paymentID string) (*Payment, error) {
	var row paymentRow
	err := l.db.GetContext(ctx, &row, `SELECT * FROM payments WHERE payment_id = ?`, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("getting payment: %w", err)
	}
	created, _ := time.Parse(ledgerTimeLayout, row.CreatedAt) //nolint:errcheck // written by Record
	return &Payment{
		PaymentID: row.PaymentID,
		OrderID:   row.OrderID,
		UserID:    row.UserID,
		Credits:   row.Credits,
		CreatedAt: created,
	}, nil
}

func isConstraintViolation(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
