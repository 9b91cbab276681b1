package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/internal/domain/repository"
	"github.com/oksasatya/profile-service/pkg/helpers"
)

var later = createdAt.Add(48 * time.Hour)

func newProfileService(repo *memRepo) *ProfileService {
	s := NewProfileService(repo, testHasher, nil, nil, 0, helpers.NewNopLogger())
	s.Now = fixedClock(later)
	return s
}

func TestUpdateProfile_EmailTakenByOtherAccount(t *testing.T) {
	repo := newMemRepo(
		account(1, "a@x.com", "li_bai", "secret1"),
		account(2, "b@x.com", "du_fu", "secret2"),
	)
	s := newProfileService(repo)

	_, err := s.UpdateProfile(context.Background(), 1, ProfileUpdate{Email: Some("b@x.com")})

	field, ok := entity.IsConflict(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, entity.FieldEmail, field)
	assert.Equal(t, "a@x.com", repo.get(1).Email)
	assert.Zero(t, repo.updates)
}

func TestUpdateProfile_SameEmailIsNoop(t *testing.T) {
	repo := newMemRepo(account(1, "a@x.com", "li_bai", "secret1"))
	s := newProfileService(repo)

	a, err := s.UpdateProfile(context.Background(), 1, ProfileUpdate{Email: Some("a@x.com"), Username: Some("li_bai")})

	require.NoError(t, err)
	assert.Equal(t, "a@x.com", a.Email)
	assert.Equal(t, createdAt, a.UpdatedAt)
	assert.Zero(t, repo.updates)
}

func TestUpdateProfile_EmptyUpdateIsNoop(t *testing.T) {
	repo := newMemRepo(account(1, "a@x.com", "li_bai", "secret1"))
	s := newProfileService(repo)

	require.True(t, ProfileUpdate{}.IsEmpty())
	a, err := s.UpdateProfile(context.Background(), 1, ProfileUpdate{})
	require.NoError(t, err)
	assert.Equal(t, "li_bai", a.Username)
	assert.Zero(t, repo.updates)
}

func TestUpdateUsername_RenamesAndAdvancesUpdatedAt(t *testing.T) {
	repo := newMemRepo(account(1, "li@x.com", "li_bai", "secret1"))
	s := newProfileService(repo)

	a, err := s.UpdateUsername(context.Background(), 1, "du_fu")

	require.NoError(t, err)
	assert.Equal(t, "du_fu", a.Username)
	assert.Equal(t, later, a.UpdatedAt)
	assert.True(t, a.UpdatedAt.After(a.CreatedAt))
	assert.Equal(t, "du_fu", repo.get(1).Username)
	assert.Equal(t, 1, repo.updates)
}

func TestUpdateProfile_ConflictAbortsWholeUpdate(t *testing.T) {
	repo := newMemRepo(
		account(1, "a@x.com", "li_bai", "secret1"),
		account(2, "b@x.com", "du_fu", "secret2"),
	)
	s := newProfileService(repo)
	before := repo.get(1)

	_, err := s.UpdateProfile(context.Background(), 1, ProfileUpdate{
		Email:    Some("new@x.com"),
		Username: Some("du_fu"),
		Password: Some("another-secret"),
	})

	field, ok := entity.IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, entity.FieldUsername, field)
	assert.Equal(t, before, repo.get(1))
}

func TestUpdateProfile_PasswordIsRehashed(t *testing.T) {
	repo := newMemRepo(account(1, "a@x.com", "li_bai", "secret1"))
	s := newProfileService(repo)

	a, err := s.UpdateProfile(context.Background(), 1, ProfileUpdate{Password: Some("secret1")})

	require.NoError(t, err)
	stored := repo.get(1)
	assert.Equal(t, stored.PasswordHash, a.PasswordHash)
	assert.True(t, testHasher.Verify("secret1", stored.PasswordHash))
	assert.Equal(t, 1, repo.updates)
}

func TestUpdateProfile_RejectsMissingAndInactive(t *testing.T) {
	inactive := account(2, "b@x.com", "du_fu", "secret2")
	inactive.IsActive = false
	repo := newMemRepo(inactive)
	s := newProfileService(repo)

	_, err := s.UpdateUsername(context.Background(), 1, "someone")
	assert.ErrorIs(t, err, entity.ErrAccountNotFound)

	_, err = s.UpdateUsername(context.Background(), 2, "someone")
	assert.ErrorIs(t, err, entity.ErrAccountInactive)
}

func TestUpdateProfile_ConcurrentClaimsOneWinner(t *testing.T) {
	repo := newMemRepo(
		account(1, "a@x.com", "li_bai", "secret1"),
		account(2, "b@x.com", "du_fu", "secret2"),
	)
	s := newProfileService(repo)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.UpdateUsername(context.Background(), int64(i+1), "wang_wei")
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if _, c := entity.IsConflict(err); c {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	owners := 0
	for _, id := range []int64{1, 2} {
		if repo.get(id).Username == "wang_wei" {
			owners++
		}
	}
	assert.Equal(t, 1, owners)
}

func TestChangePassword(t *testing.T) {
	t.Run("wrong current password", func(t *testing.T) {
		repo := newMemRepo(account(1, "a@x.com", "li_bai", "secret1"))
		s := newProfileService(repo)
		hasher := &countingHasher{BcryptHasher: testHasher}
		s.Hasher = hasher
		before := repo.get(1)

		err := s.ChangePassword(context.Background(), 1, "wrong-one", "brand-new")

		require.ErrorIs(t, err, entity.ErrInvalidCredential)
		assert.Equal(t, before, repo.get(1))
		assert.Zero(t, hasher.hashes.Load(), "no new hash is computed for a rejected attempt")
	})

	t.Run("correct current password", func(t *testing.T) {
		repo := newMemRepo(account(1, "a@x.com", "li_bai", "secret1"))
		s := newProfileService(repo)

		require.NoError(t, s.ChangePassword(context.Background(), 1, "secret1", "brand-new"))

		stored := repo.get(1)
		assert.True(t, testHasher.Verify("brand-new", stored.PasswordHash))
		assert.False(t, testHasher.Verify("secret1", stored.PasswordHash))
		assert.Equal(t, later, stored.UpdatedAt)
	})

	t.Run("commit failure is returned", func(t *testing.T) {
		repo := newMemRepo(account(1, "a@x.com", "li_bai", "secret1"))
		repo.failCommit = errCommit
		s := newProfileService(repo)

		err := s.ChangePassword(context.Background(), 1, "secret1", "brand-new")
		require.ErrorIs(t, err, errCommit)
		assert.True(t, testHasher.Verify("secret1", repo.get(1).PasswordHash))
	})
}

func TestGetProfile_ReadThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := newMemRepo(account(1, "a@x.com", "li_bai", "secret1"))
	s := NewProfileService(repo, testHasher, &ProfileSync{Redis: rdb, CacheTTL: time.Minute}, rdb, time.Minute, helpers.NewNopLogger())
	s.Now = fixedClock(later)
	ctx := context.Background()

	a, err := s.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "li_bai", a.Username)
	require.True(t, mr.Exists(helpers.ProfileCacheKey(1)))
	assert.NotContains(t, mustGet(t, mr, helpers.ProfileCacheKey(1)), "password")

	// served from cache while the store is unavailable
	repo.failGet = errDatabase
	a, err = s.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "li_bai", a.Username)
	repo.failGet = nil

	_, err = s.UpdateUsername(ctx, 1, "du_fu")
	require.NoError(t, err)
	assert.Contains(t, mustGet(t, mr, helpers.ProfileCacheKey(1)), `"username":"du_fu"`)

	a, err = s.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "du_fu", a.Username)
}

func newCachedProfileService(t *testing.T, repo repository.AccountRepository) (*ProfileService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ps := &ProfileSync{Redis: rdb, CacheTTL: time.Minute}
	s := NewProfileService(repo, testHasher, ps, rdb, time.Minute, helpers.NewNopLogger())
	s.Now = fixedClock(later)
	return s, mr
}

func TestGetProfile_LoadOverlappingUpdateDoesNotCacheOldRow(t *testing.T) {
	repo := newGatedRepo(newMemRepo(account(1, "a@x.com", "li_bai", "secret1")))
	s, _ := newCachedProfileService(t, repo)
	ctx := context.Background()

	type result struct {
		a   *entity.Account
		err error
	}
	done := make(chan result, 1)
	go func() {
		a, err := s.GetProfile(ctx, 1)
		done <- result{a, err}
	}()

	<-repo.read
	_, err := s.UpdateUsername(ctx, 1, "du_fu")
	require.NoError(t, err)
	close(repo.release)

	old := <-done
	require.NoError(t, old.err)
	assert.Equal(t, "li_bai", old.a.Username)

	a, err := s.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "du_fu", a.Username)
}

func TestGetProfile_CallerDisconnectDoesNotFailSharedLoad(t *testing.T) {
	repo := newGatedRepo(newMemRepo(account(1, "a@x.com", "li_bai", "secret1")))
	s, mr := newCachedProfileService(t, repo)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.GetProfile(first, 1)
		firstErr <- err
	}()
	<-repo.read

	type result struct {
		a   *entity.Account
		err error
	}
	second := make(chan result, 1)
	go func() {
		a, err := s.GetProfile(context.Background(), 1)
		second <- result{a, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(repo.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "li_bai", res.a.Username)
	assert.True(t, mr.Exists(helpers.ProfileCacheKey(1)))
}

func TestGetProfile_Errors(t *testing.T) {
	inactive := account(2, "b@x.com", "du_fu", "secret2")
	inactive.IsActive = false
	s := newProfileService(newMemRepo(inactive))

	_, err := s.GetProfile(context.Background(), 1)
	assert.ErrorIs(t, err, entity.ErrAccountNotFound)

	_, err = s.GetProfile(context.Background(), 2)
	assert.ErrorIs(t, err, entity.ErrAccountInactive)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
