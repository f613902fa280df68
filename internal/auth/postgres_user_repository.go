package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresUserSchema is applied by EnsureSchema. It mirrors the SQLite
// users migration.
const postgresUserSchema = `
create table if not exists users (
	id uuid primary key,
	email text not null unique,
	name text not null default '',
	password_hash text null,
	is_google_user boolean not null default false,
	google_id text null,
	role text not null default 'viewer' check (role in ('viewer', 'developer', 'admin')),
	admin_id uuid null references users(id) on delete set null,
	credits integer not null default 0 check (credits >= 0),
	subscription_id text not null default '',
	subscription_plan_id text not null default '',
	subscription_status text not null default '',
	subscription_start timestamptz null,
	subscription_end timestamptz null,
	subscription_last_bill timestamptz null,
	subscription_next_bill timestamptz null,
	subscription_payments_made integer not null default 0,
	subscription_payments_left integer not null default 0,
	reset_code_hash text null,
	reset_expires_at timestamptz null,
	reset_attempts integer not null default 0,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);
create index if not exists idx_users_admin_id on users (admin_id);
alter table users add column if not exists reset_attempts integer not null default 0;
`

const pgUserColumns = `id::text, email, name, coalesce(password_hash, ''), is_google_user, coalesce(google_id, ''),
	role, admin_id::text, credits, subscription_id, subscription_plan_id, subscription_status,
	subscription_start, subscription_end, subscription_last_bill, subscription_next_bill,
	subscription_payments_made, subscription_payments_left, coalesce(reset_code_hash, ''), reset_expires_at,
	created_at, updated_at`

// PostgresUserRepository implements UserRepository on PostgreSQL.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository connects to databaseURL and pings it.
func NewPostgresUserRepository(ctx context.Context, databaseURL string) (*PostgresUserRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresUserRepository{pool: pool}, nil
}

// EnsureSchema creates the users table if it does not exist.
func (r *PostgresUserRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresUserSchema); err != nil {
		return fmt.Errorf("applying users schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *PostgresUserRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Create implements UserRepository.
func (r *PostgresUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = RoleViewer
	}
	user.Email = NormalizeEmail(user.Email)
	sub := user.Subscription

	err := r.pool.QueryRow(ctx, `
		insert into users (id, email, name, password_hash, is_google_user, google_id, role, admin_id, credits,
			subscription_id, subscription_plan_id, subscription_status, subscription_start, subscription_end,
			subscription_last_bill, subscription_next_bill, subscription_payments_made, subscription_payments_left)
		values ($1::uuid, $2, $3, nullif($4, ''), $5, nullif($6, ''), $7, $8::uuid, $9,
			$10, $11, $12, $13, $14, $15, $16, $17, $18)
		returning created_at, updated_at
	`, user.ID, user.Email, user.Name, user.PasswordHash, user.IsGoogleUser, user.GoogleID, string(user.Role),
		user.AdminID, user.Credits, sub.ID, sub.PlanID, string(sub.Status), sub.Start, sub.End,
		sub.LastBillDate, sub.NextBillDate, sub.PaymentsMade, sub.PaymentsRemaining,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID implements UserRepository.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrUserNotFound
	}
	return scanPgUser(r.pool.QueryRow(ctx, "select "+pgUserColumns+" from users where id = $1::uuid", id))
}

// GetByEmail implements UserRepository.
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanPgUser(r.pool.QueryRow(ctx, "select "+pgUserColumns+" from users where email = $1", NormalizeEmail(email)))
}

// ListByAdmin implements UserRepository.
func (r *PostgresUserRepository) ListByAdmin(ctx context.Context, adminID string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `select `+pgUserColumns+` from users
		where admin_id = $1::uuid and id <> $1::uuid order by created_at asc`, adminID)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Update implements UserRepository.
func (r *PostgresUserRepository) Update(ctx context.Context, user *User) error {
	err := r.pool.QueryRow(ctx, `
		update users set name = $1, role = $2, admin_id = $3::uuid, is_google_user = $4,
			google_id = nullif($5, ''), updated_at = now()
		where id = $6::uuid returning updated_at
	`, user.Name, string(user.Role), user.AdminID, user.IsGoogleUser, user.GoogleID, user.ID).Scan(&user.UpdatedAt)
	return mapNoRows(err, "updating user")
}

// UpdatePassword implements UserRepository.
func (r *PostgresUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx, "updating password",
		`update users set password_hash = $1, updated_at = now() where id = $2::uuid`, passwordHash, id)
}

// SetResetCode implements UserRepository.
func (r *PostgresUserRepository) SetResetCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error {
	return r.execOne(ctx, "storing reset code",
		`update users set reset_code_hash = $1, reset_expires_at = $2, reset_attempts = 0, updated_at = now()
		 where id = $3::uuid`,
		codeHash, expiresAt, id)
}

// CheckResetCode implements UserRepository.
func (r *PostgresUserRepository) CheckResetCode(ctx context.Context, email, codeHash string, now time.Time, maxAttempts int) error {
	var stored *string
	err := r.pool.QueryRow(ctx, `
		update users set
			reset_attempts = reset_attempts + 1,
			reset_code_hash = case when reset_code_hash = $1 or reset_attempts + 1 < $2 then reset_code_hash end,
			reset_expires_at = case when reset_code_hash = $1 or reset_attempts + 1 < $2 then reset_expires_at end,
			updated_at = now()
		where email = $3 and reset_code_hash is not null and reset_expires_at > $4 and reset_attempts < $2
		returning reset_code_hash`,
		codeHash, maxAttempts, NormalizeEmail(email), now).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvalidResetCode
	}
	if err != nil {
		return fmt.Errorf("checking reset code: %w", err)
	}
	if stored == nil || !resetCodeMatches(*stored, codeHash) {
		return ErrInvalidResetCode
	}
	return nil
}

// CompleteReset implements UserRepository.
func (r *PostgresUserRepository) CompleteReset(ctx context.Context, email, codeHash, passwordHash string, now time.Time) error {
	err := r.execOne(ctx, "completing password reset", `
		update users set password_hash = $1, reset_code_hash = null, reset_expires_at = null, reset_attempts = 0,
			updated_at = now()
		where email = $2 and reset_code_hash = $3 and reset_expires_at > $4`,
		passwordHash, NormalizeEmail(email), codeHash, now)
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidResetCode
	}
	return err
}

// ConsumeCredit implements UserRepository.
func (r *PostgresUserRepository) ConsumeCredit(ctx context.Context, id string) (int, error) {
	var remaining int
	err := r.pool.QueryRow(ctx, `
		update users set credits = credits - 1, updated_at = now()
		where id = $1::uuid and credits >= 1 returning credits`, id).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
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

// AddCredits implements UserRepository.
func (r *PostgresUserRepository) AddCredits(ctx context.Context, id string, n int) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		update users set credits = credits + $1, updated_at = now()
		where id = $2::uuid returning credits`, n, id).Scan(&total)
	if err := mapNoRows(err, "adding credits"); err != nil {
		return 0, err
	}
	return total, nil
}

// UpdateSubscription implements UserRepository.
func (r *PostgresUserRepository) UpdateSubscription(ctx context.Context, id string, sub Subscription) error {
	return r.execOne(ctx, "updating subscription", `
		update users set subscription_id = $1, subscription_plan_id = $2, subscription_status = $3,
			subscription_start = $4, subscription_end = $5, subscription_last_bill = $6,
			subscription_next_bill = $7, subscription_payments_made = $8, subscription_payments_left = $9,
			updated_at = now()
		where id = $10::uuid`,
		sub.ID, sub.PlanID, string(sub.Status), sub.Start, sub.End, sub.LastBillDate, sub.NextBillDate,
		sub.PaymentsMade, sub.PaymentsRemaining, id)
}

// Count implements UserRepository.
func (r *PostgresUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "select count(*) from users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *PostgresUserRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func mapNoRows(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrUserNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func scanPgUser(row pgx.Row) (*User, error) {
	var u User
	var role, subStatus string

	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsGoogleUser, &u.GoogleID,
		&role, &u.AdminID, &u.Credits, &u.Subscription.ID, &u.Subscription.PlanID, &subStatus,
		&u.Subscription.Start, &u.Subscription.End, &u.Subscription.LastBillDate, &u.Subscription.NextBillDate,
		&u.Subscription.PaymentsMade, &u.Subscription.PaymentsRemaining, &u.ResetCodeHash, &u.ResetExpiresAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = Role(role)
	u.Subscription.Status = SubscriptionStatus(subStatus)
	return &u, nil
}
