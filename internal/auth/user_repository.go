package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRepository is the credential store.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByAdmin(ctx context.Context, adminID string) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetResetCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error
	// CheckResetCode counts one attempt against the outstanding code and
	// reports ErrInvalidResetCode unless codeHash matches an unexpired code.
	// The code is cleared once maxAttempts attempts have failed.
	CheckResetCode(ctx context.Context, email, codeHash string, now time.Time, maxAttempts int) error
	// CompleteReset swaps the password and clears the reset code in one
	// statement, only while the code matches and is unexpired.
	CompleteReset(ctx context.Context, email, codeHash, passwordHash string, now time.Time) error
	// ConsumeCredit decrements credits by one, never below zero, and
	// returns the remaining balance.
	ConsumeCredit(ctx context.Context, id string) (int, error)
	AddCredits(ctx context.Context, id string, n int) (int, error)
	UpdateSubscription(ctx context.Context, id string, sub Subscription) error
	Count(ctx context.Context) (int, error)
}

const userColumns = `id, email, name, password_hash, is_google_user, google_id, role, admin_id, credits,
	subscription_id, subscription_plan_id, subscription_status, subscription_start, subscription_end,
	subscription_last_bill, subscription_next_bill, subscription_payments_made, subscription_payments_left,
	reset_code_hash, reset_expires_at, created_at, updated_at`

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserRepository creates a SQLite-backed credential store.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db, now: time.Now}
}

// Create inserts a new account. The ID is generated if empty and the e-mail
// is normalised.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = RoleViewer
	}
	user.Email = NormalizeEmail(user.Email)
	user.CreatedAt = r.timestamp()
	user.UpdatedAt = user.CreatedAt
	now := formatTime(user.CreatedAt)
	sub := user.Subscription

	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, nullString(user.PasswordHash), boolToInt(user.IsGoogleUser),
		nullString(user.GoogleID), string(user.Role), nullStringPtr(user.AdminID), user.Credits,
		sub.ID, sub.PlanID, string(sub.Status), nullTime(sub.Start), nullTime(sub.End),
		nullTime(sub.LastBillDate), nullTime(sub.NextBillDate), sub.PaymentsMade, sub.PaymentsRemaining,
		nullString(user.ResetCodeHash), nullTime(user.ResetExpiresAt), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetByEmail retrieves a user by e-mail, case-insensitively.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", NormalizeEmail(email)))
}

// ListByAdmin returns the users managed by adminID, oldest first. A Google
// root identity manages itself and is excluded.
func (r *SQLiteUserRepository) ListByAdmin(ctx context.Context, adminID string) ([]User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE admin_id = ? AND id != ? ORDER BY created_at ASC", adminID, adminID)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Update modifies name, role, admin link and Google linkage.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = r.timestamp()
	return r.execOne(ctx, "updating user",
		`UPDATE users SET name = ?, role = ?, admin_id = ?, is_google_user = ?, google_id = ?, updated_at = ? WHERE id = ?`,
		user.Name, string(user.Role), nullStringPtr(user.AdminID), boolToInt(user.IsGoogleUser),
		nullString(user.GoogleID), formatTime(user.UpdatedAt), user.ID,
	)
}

// UpdatePassword replaces a user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx, "updating password",
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, formatTime(r.timestamp()), id)
}

// SetResetCode stores a reset code hash, replacing any outstanding code.
func (r *SQLiteUserRepository) SetResetCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error {
	return r.execOne(ctx, "storing reset code",
		`UPDATE users SET reset_code_hash = ?, reset_expires_at = ?, reset_attempts = 0, updated_at = ? WHERE id = ?`,
		codeHash, formatTime(expiresAt), formatTime(r.timestamp()), id)
}

// CheckResetCode implements UserRepository. The attempt is counted and the
// code possibly cleared in the same statement that reads it, so parallel
// guesses cannot exceed maxAttempts.
func (r *SQLiteUserRepository) CheckResetCode(ctx context.Context, email, codeHash string, now time.Time, maxAttempts int) error {
	var stored sql.NullString
	err := r.db.QueryRowContext(ctx, `
		UPDATE users SET
			reset_attempts = reset_attempts + 1,
			reset_code_hash = CASE WHEN reset_code_hash = ? OR reset_attempts + 1 < ? THEN reset_code_hash END,
			reset_expires_at = CASE WHEN reset_code_hash = ? OR reset_attempts + 1 < ? THEN reset_expires_at END,
			updated_at = ?
		WHERE email = ? AND reset_code_hash IS NOT NULL AND reset_expires_at > ? AND reset_attempts < ?
		RETURNING reset_code_hash`,
		codeHash, maxAttempts, codeHash, maxAttempts, formatTime(r.timestamp()),
		NormalizeEmail(email), formatTime(now), maxAttempts).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidResetCode
	}
	if err != nil {
		return fmt.Errorf("checking reset code: %w", err)
	}
	if !stored.Valid || !resetCodeMatches(stored.String, codeHash) {
		return ErrInvalidResetCode
	}
	return nil
}

// CompleteReset implements UserRepository.
func (r *SQLiteUserRepository) CompleteReset(ctx context.Context, email, codeHash, passwordHash string, now time.Time) error {
	err := r.execOne(ctx, "completing password reset",
		`UPDATE users SET password_hash = ?, reset_code_hash = NULL, reset_expires_at = NULL, reset_attempts = 0, updated_at = ?
		 WHERE email = ? AND reset_code_hash = ? AND reset_expires_at > ?`,
		passwordHash, formatTime(r.timestamp()), NormalizeEmail(email), codeHash, formatTime(now))
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidResetCode
	}
	return err
}

// ConsumeCredit implements UserRepository.
func (r *SQLiteUserRepository) ConsumeCredit(ctx context.Context, id string) (int, error) {
	var remaining int
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET credits = credits - 1, updated_at = ? WHERE id = ? AND credits >= 1 RETURNING credits`,
		formatTime(r.timestamp()), id).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("consuming credit: %w", err)
	}
	return remaining, nil
}

// AddCredits increases a user's balance and returns the new total.
func (r *SQLiteUserRepository) AddCredits(ctx context.Context, id string, n int) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET credits = credits + ?, updated_at = ? WHERE id = ? RETURNING credits`,
		n, formatTime(r.timestamp()), id).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("adding credits: %w", err)
	}
	return total, nil
}

// UpdateSubscription overwrites the subscription state.
func (r *SQLiteUserRepository) UpdateSubscription(ctx context.Context, id string, sub Subscription) error {
	return r.execOne(ctx, "updating subscription",
		`UPDATE users SET subscription_id = ?, subscription_plan_id = ?, subscription_status = ?,
			subscription_start = ?, subscription_end = ?, subscription_last_bill = ?, subscription_next_bill = ?,
			subscription_payments_made = ?, subscription_payments_left = ?, updated_at = ?
		 WHERE id = ?`,
		sub.ID, sub.PlanID, string(sub.Status), nullTime(sub.Start), nullTime(sub.End),
		nullTime(sub.LastBillDate), nullTime(sub.NextBillDate), sub.PaymentsMade, sub.PaymentsRemaining,
		formatTime(r.timestamp()), id)
}

// Count returns the number of accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// execOne runs an UPDATE that must touch exactly one row.
func (r *SQLiteUserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLiteUserRepository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var passwordHash, googleID, adminID, resetHash, resetExpires sql.NullString
	var subStart, subEnd, subLast, subNext sql.NullString
	var role, subStatus, createdAt, updatedAt string
	var isGoogle int

	err := s.Scan(&u.ID, &u.Email, &u.Name, &passwordHash, &isGoogle, &googleID, &role, &adminID, &u.Credits,
		&u.Subscription.ID, &u.Subscription.PlanID, &subStatus, &subStart, &subEnd, &subLast, &subNext,
		&u.Subscription.PaymentsMade, &u.Subscription.PaymentsRemaining,
		&resetHash, &resetExpires, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.PasswordHash = passwordHash.String
	u.IsGoogleUser = isGoogle != 0
	u.GoogleID = googleID.String
	u.Role = Role(role)
	if adminID.Valid {
		u.AdminID = &adminID.String
	}
	u.Subscription.Status = SubscriptionStatus(subStatus)
	u.Subscription.Start = parseNullTime(subStart)
	u.Subscription.End = parseNullTime(subEnd)
	u.Subscription.LastBillDate = parseNullTime(subLast)
	u.Subscription.NextBillDate = parseNullTime(subNext)
	u.ResetCodeHash = resetHash.String
	u.ResetExpiresAt = parseNullTime(resetExpires)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by us
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by us
	return &u, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks for a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
