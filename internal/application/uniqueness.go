package application

import (
	"context"

	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/internal/domain/repository"
)

// isTaken reports whether candidate is bound to an account other than excludingID.
// It must run inside the transaction that performs the write.
func isTaken(ctx context.Context, tx repository.AccountTx, field entity.UniqueField, candidate string, excludingID int64) (bool, error) {
	return tx.ExistsOther(ctx, field, candidate, excludingID)
}

// claim decides whether the actor may move field from current to candidate.
// It returns false without touching storage when nothing would change.
func claim(ctx context.Context, tx repository.AccountTx, actorID int64, field entity.UniqueField, current, candidate string) (bool, error) {
	if candidate == current {
		return false, nil
	}
	taken, err := isTaken(ctx, tx, field, candidate, actorID)
	if err != nil {
		return false, err
	}
	if taken {
		return false, entity.NewConflict(field)
	}
	return true, nil
}
