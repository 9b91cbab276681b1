package repository

import (
	"context"

	"github.com/oksasatya/profile-service/internal/domain/entity"
)

// AccountRepository defines account persistence.
// Every mutation goes through WithinTx so that reads, uniqueness checks and
// the write share one commit boundary.
type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*entity.Account, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx AccountTx) error) error
}

// AccountTx is the transaction-scoped view of the accounts table.
type AccountTx interface {
	// LockByID loads the account and holds its row until commit.
	LockByID(ctx context.Context, id int64) (*entity.Account, error)
	// ExistsOther reports whether another account holds value in field.
	ExistsOther(ctx context.Context, field entity.UniqueField, value string, excludingID int64) (bool, error)
	// Update writes every mutable column of a. Unique violations surface as *entity.ConflictError.
	Update(ctx context.Context, a *entity.Account) error
}
