package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/internal/domain/repository"
	"github.com/oksasatya/profile-service/pkg/helpers"
)

var (
	testHasher  = helpers.BcryptHasher{Cost: bcrypt.MinCost}
	createdAt   = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	errCommit   = errors.New("commit failed")
	errDatabase = errors.New("database down")
)

// memRepo is an in-memory AccountRepository. One transaction runs at a time,
// which gives the same per-row serialization as SELECT ... FOR UPDATE.
type memRepo struct {
	mu      sync.Mutex
	rows    map[int64]entity.Account
	updates int

	failCommit error
	failGet    error
}

func newMemRepo(accounts ...entity.Account) *memRepo {
	r := &memRepo{rows: map[int64]entity.Account{}}
	for _, a := range accounts {
		r.rows[a.ID] = a
	}
	return r
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*entity.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return nil, r.failGet
	}
	a, ok := r.rows[id]
	if !ok {
		return nil, entity.ErrAccountNotFound
	}
	return &a, nil
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.AccountTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[int64]entity.Account, len(r.rows))
	for id, a := range r.rows {
		staged[id] = a
	}
	tx := &memTx{rows: staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if r.failCommit != nil {
		return r.failCommit
	}
	r.rows = staged
	r.updates += tx.updates
	return nil
}

func (r *memRepo) get(id int64) entity.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

// gatedRepo pauses the first GetByID after it has read the row, until release
// is closed. It then reports the context error the read was running under.
type gatedRepo struct {
	*memRepo
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newGatedRepo(repo *memRepo) *gatedRepo {
	return &gatedRepo{memRepo: repo, read: make(chan struct{}), release: make(chan struct{})}
}

func (r *gatedRepo) GetByID(ctx context.Context, id int64) (*entity.Account, error) {
	a, err := r.memRepo.GetByID(ctx, id)
	r.once.Do(func() {
		close(r.read)
		<-r.release
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return a, err
}

// countingHasher counts Hash calls.
type countingHasher struct {
	helpers.BcryptHasher
	hashes atomic.Int32
}

func (h *countingHasher) Hash(plain string) (string, error) {
	h.hashes.Add(1)
	return h.BcryptHasher.Hash(plain)
}

type memTx struct {
	rows    map[int64]entity.Account
	updates int
}

func (t *memTx) LockByID(_ context.Context, id int64) (*entity.Account, error) {
	a, ok := t.rows[id]
	if !ok {
		return nil, entity.ErrAccountNotFound
	}
	return &a, nil
}

func (t *memTx) ExistsOther(_ context.Context, field entity.UniqueField, value string, excludingID int64) (bool, error) {
	for id, a := range t.rows {
		if id == excludingID {
			continue
		}
		switch field {
		case entity.FieldEmail:
			if a.Email == value {
				return true, nil
			}
		case entity.FieldUsername:
			if a.Username == value {
				return true, nil
			}
		default:
			return false, errors.New("unknown field")
		}
	}
	return false, nil
}

func (t *memTx) Update(_ context.Context, a *entity.Account) error {
	if _, ok := t.rows[a.ID]; !ok {
		return entity.ErrAccountNotFound
	}
	for id, o := range t.rows {
		if id == a.ID {
			continue
		}
		if o.Email == a.Email {
			return entity.NewConflict(entity.FieldEmail)
		}
		if o.Username == a.Username {
			return entity.NewConflict(entity.FieldUsername)
		}
	}
	t.rows[a.ID] = *a
	t.updates++
	return nil
}

func account(id int64, email, username, password string) entity.Account {
	hash, err := testHasher.Hash(password)
	if err != nil {
		panic(err)
	}
	return entity.Account{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []any
	err  error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, body any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, body)
	return p.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
