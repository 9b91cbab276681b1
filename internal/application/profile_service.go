package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/internal/domain/repository"
	"github.com/oksasatya/profile-service/pkg/helpers"
)

// PasswordHasher is satisfied by helpers.BcryptHasher.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// ProfileUpdate is a partial update of the actor's own record.
// Absent fields are left as they are.
type ProfileUpdate struct {
	Email    Field[string]
	Username Field[string]
	Password Field[string]
}

// IsEmpty reports whether no field was supplied.
func (u ProfileUpdate) IsEmpty() bool {
	return !u.Email.Present && !u.Username.Present && !u.Password.Present
}

const profileLoadTimeout = 5 * time.Second

type ProfileService struct {
	Repo     repository.AccountRepository
	Hasher   PasswordHasher
	Sync     *ProfileSync
	Redis    *redis.Client
	CacheTTL time.Duration
	Logger   *logrus.Logger
	Now      func() time.Time

	// collapses concurrent cache misses for the same account
	loads singleflight.Group
}

func NewProfileService(repo repository.AccountRepository, hasher PasswordHasher, sync *ProfileSync, rdb *redis.Client, cacheTTL time.Duration, logger *logrus.Logger) *ProfileService {
	return &ProfileService{
		Repo:     repo,
		Hasher:   hasher,
		Sync:     sync,
		Redis:    rdb,
		CacheTTL: cacheTTL,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (s *ProfileService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// GetProfile returns the actor's account, served from the Redis profile
// cache when present.
func (s *ProfileService) GetProfile(ctx context.Context, actorID int64) (*entity.Account, error) {
	key := helpers.ProfileCacheKey(actorID)
	if s.Redis != nil {
		var cached entity.Account
		ok, err := helpers.RedisGetJSON(ctx, s.Redis, key, &cached)
		if err != nil {
			helpers.LogWarn(s.Logger, "profile cache read failed", err, logrus.Fields{"key": key})
		}
		if ok {
			if !cached.IsActive {
				return nil, entity.ErrAccountInactive
			}
			return &cached, nil
		}
	}

	// the shared load outlives any single caller; each caller waits on its own ctx
	ch := s.loads.DoChan(key, func() (any, error) {
		c, cancel := context.WithTimeout(context.WithoutCancel(ctx), profileLoadTimeout)
		defer cancel()
		a, err := s.Repo.GetByID(c, actorID)
		if err != nil {
			return nil, err
		}
		if s.Redis != nil && s.CacheTTL > 0 {
			// never overwrite a snapshot written by a commit that finished meanwhile
			if _, err := helpers.RedisSetNXJSON(c, s.Redis, key, a, s.CacheTTL); err != nil {
				helpers.LogWarn(s.Logger, "profile cache write failed", err, logrus.Fields{"key": key})
			}
		}
		return a, nil
	})
	var v any
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		v = res.Val
	}
	// callers sharing a load must not share the struct
	shared := *v.(*entity.Account)
	a := &shared
	if !a.IsActive {
		return nil, entity.ErrAccountInactive
	}
	return a, nil
}

// UpdateProfile applies in to the actor's record. Every uniqueness check and
// the write share one transaction holding the actor's row lock, so either all
// supplied fields change or none do. A call that changes nothing does not
// write and leaves UpdatedAt alone.
func (s *ProfileService) UpdateProfile(ctx context.Context, actorID int64, in ProfileUpdate) (*entity.Account, error) {
	var newHash string
	if in.Password.Present {
		h, err := s.Hasher.Hash(in.Password.Value)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		newHash = h
	}

	var (
		prev    entity.Account
		updated *entity.Account
		changed bool
	)
	err := s.Repo.WithinTx(ctx, func(ctx context.Context, tx repository.AccountTx) error {
		a, err := lockActive(ctx, tx, actorID)
		if err != nil {
			return err
		}
		prev = *a
		changed = false

		if in.Email.Present {
			ok, err := claim(ctx, tx, a.ID, entity.FieldEmail, a.Email, in.Email.Value)
			if err != nil {
				return err
			}
			if ok {
				a.Email = in.Email.Value
				changed = true
			}
		}
		if in.Username.Present {
			ok, err := claim(ctx, tx, a.ID, entity.FieldUsername, a.Username, in.Username.Value)
			if err != nil {
				return err
			}
			if ok {
				a.Username = in.Username.Value
				changed = true
			}
		}
		if in.Password.Present {
			a.PasswordHash = newHash
			changed = true
		}

		updated = a
		if !changed {
			return nil
		}
		a.Touch(s.now())
		return tx.Update(ctx, a)
	})
	if err != nil {
		countConflict(err)
		return nil, err
	}

	if changed {
		s.Sync.AfterCommit(ctx, &prev, updated)
		helpers.LogInfo(s.Logger, "profile updated", logrus.Fields{"user_id": actorID})
	}
	return updated, nil
}

// UpdateUsername is UpdateProfile restricted to the username.
func (s *ProfileService) UpdateUsername(ctx context.Context, actorID int64, username string) (*entity.Account, error) {
	return s.UpdateProfile(ctx, actorID, ProfileUpdate{Username: Some(username)})
}

// ChangePassword replaces the password after checking current against the
// stored hash. A mismatch returns entity.ErrInvalidCredential and writes nothing.
func (s *ProfileService) ChangePassword(ctx context.Context, actorID int64, current, next string) error {
	var prev, updated entity.Account
	err := s.Repo.WithinTx(ctx, func(ctx context.Context, tx repository.AccountTx) error {
		a, err := lockActive(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if !s.Hasher.Verify(current, a.PasswordHash) {
			return entity.ErrInvalidCredential
		}
		newHash, err := s.Hasher.Hash(next)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		prev = *a
		a.PasswordHash = newHash
		a.Touch(s.now())
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		updated = *a
		return nil
	})
	if errors.Is(err, entity.ErrInvalidCredential) {
		stats.Add(statPasswordMismatches, 1)
		helpers.LogWarn(s.Logger, "password change rejected", err, logrus.Fields{"user_id": actorID})
		return err
	}
	if err != nil {
		return err
	}

	s.Sync.AfterCommit(ctx, &prev, &updated)
	helpers.LogInfo(s.Logger, "password changed", logrus.Fields{"user_id": actorID})
	return nil
}

// lockActive loads and row-locks the actor, rejecting deactivated accounts.
func lockActive(ctx context.Context, tx repository.AccountTx, actorID int64) (*entity.Account, error) {
	a, err := tx.LockByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, entity.ErrAccountInactive
	}
	return a, nil
}
