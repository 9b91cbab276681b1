package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/internal/domain/repository"
)

// Unique constraint names created by db/migrations.
const (
	emailConstraint    = "users_email_key"
	usernameConstraint = "users_username_key"

	uniqueViolation = "23505"
)

// PgxPool is the subset of *pgxpool.Pool the repository uses; pgxmock satisfies it too.
type PgxPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const selectAccount = `
		SELECT id, email, username, password_hash, COALESCE(avatar_path, ''),
		       is_active, is_superuser, created_at, updated_at
		FROM users
		WHERE id = $1`

type AccountRepository struct {
	pool PgxPool
}

func NewAccountRepository(pool PgxPool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*entity.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, selectAccount, id))
}

// WithinTx runs fn in a transaction, committing when fn returns nil and
// rolling back on error or panic.
func (r *AccountRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.AccountTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(ctx, &accountTx{tx: tx}); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if cerr := translateUnique(err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

type accountTx struct {
	tx pgx.Tx
}

func (t *accountTx) LockByID(ctx context.Context, id int64) (*entity.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, selectAccount+` FOR UPDATE`, id))
}

func (t *accountTx) ExistsOther(ctx context.Context, field entity.UniqueField, value string, excludingID int64) (bool, error) {
	var query string
	switch field {
	case entity.FieldEmail:
		query = `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`
	case entity.FieldUsername:
		query = `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 AND id <> $2)`
	default:
		return false, fmt.Errorf("postgres: field %q is not unique", field)
	}

	var taken bool
	if err := t.tx.QueryRow(ctx, query, value, excludingID).Scan(&taken); err != nil {
		return false, fmt.Errorf("postgres: check %s: %w", field, err)
	}
	return taken, nil
}

func (t *accountTx) Update(ctx context.Context, a *entity.Account) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users
		SET email = $2, username = $3, password_hash = $4, avatar_path = NULLIF($5, ''), updated_at = $6
		WHERE id = $1
	`, a.ID, a.Email, a.Username, a.PasswordHash, a.AvatarKey, a.UpdatedAt)
	if err != nil {
		if cerr := translateUnique(err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("postgres: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*entity.Account, error) {
	a := &entity.Account{}
	err := row.Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.AvatarKey,
		&a.IsActive, &a.IsSuperuser, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrAccountNotFound
		}
		return nil, fmt.Errorf("postgres: load account: %w", err)
	}
	return a, nil
}

// translateUnique maps a unique violation on email/username to *entity.ConflictError.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case emailConstraint:
		return entity.NewConflict(entity.FieldEmail)
	case usernameConstraint:
		return entity.NewConflict(entity.FieldUsername)
	}
	return nil
}

var _ repository.AccountRepository = (*AccountRepository)(nil)
var _ repository.AccountTx = (*accountTx)(nil)
