package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/internal/domain/repository"
	"github.com/oksasatya/profile-service/pkg/helpers"
)

const (
	DefaultAvatarMaxBytes int64 = 5 * 1024 * 1024
	defaultAvatarExt            = ".jpg"
	cleanupTimeout              = 10 * time.Second
)

// AvatarUpload is an incoming avatar image. Size is the length declared by
// the client, zero when unknown; it is never trusted on its own.
type AvatarUpload struct {
	Body        io.Reader
	Filename    string
	ContentType string
	Size        int64
}

type AvatarResult struct {
	Key     string
	URL     string
	Account *entity.Account
}

type AvatarService struct {
	Repo     repository.AccountRepository
	Store    repository.AvatarStore
	MaxBytes int64
	Sync     *ProfileSync
	Logger   *logrus.Logger
	Now      func() time.Time
	NewID    func() string
}

func NewAvatarService(repo repository.AccountRepository, store repository.AvatarStore, maxBytes int64, sync *ProfileSync, logger *logrus.Logger) *AvatarService {
	return &AvatarService{
		Repo:     repo,
		Store:    store,
		MaxBytes: maxBytes,
		Sync:     sync,
		Logger:   logger,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

func (s *AvatarService) maxBytes() int64 {
	if s.MaxBytes <= 0 {
		return DefaultAvatarMaxBytes
	}
	return s.MaxBytes
}

func (s *AvatarService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *AvatarService) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

// URL resolves a stored avatar key to its public address.
func (s *AvatarService) URL(key string) string {
	if key == "" {
		return ""
	}
	return s.Store.URL(key)
}

// SetAvatar stores up as the actor's avatar and points the record at it.
//
// The new file is written before the record changes. If the record update
// fails the new file is removed and the previous avatar stays in place. The
// previous file is removed only after the commit; failing to remove it is
// logged and counted, not returned.
func (s *AvatarService) SetAvatar(ctx context.Context, actorID int64, up AvatarUpload) (*AvatarResult, error) {
	if !isImageType(up.ContentType) {
		stats.Add(statAvatarRejected, 1)
		return nil, entity.ErrInvalidFileType
	}
	limit := s.maxBytes()
	if up.Size > limit {
		stats.Add(statAvatarRejected, 1)
		return nil, entity.ErrFileTooLarge
	}
	if n, ok := remaining(up.Body); ok && n > limit {
		stats.Add(statAvatarRejected, 1)
		return nil, entity.ErrFileTooLarge
	}

	key := avatarKey(actorID, s.newID(), up.Filename)
	body := &ctxReader{ctx: ctx, r: &capReader{r: up.Body, left: limit}}
	if _, err := s.Store.Put(ctx, key, up.ContentType, body); err != nil {
		switch {
		case errors.Is(err, entity.ErrFileTooLarge):
			stats.Add(statAvatarRejected, 1)
			return nil, entity.ErrFileTooLarge
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("store avatar: %w", err)
	}

	var (
		prev    entity.Account
		updated *entity.Account
	)
	err := s.Repo.WithinTx(ctx, func(ctx context.Context, tx repository.AccountTx) error {
		a, err := lockActive(ctx, tx, actorID)
		if err != nil {
			return err
		}
		prev = *a
		a.AvatarKey = key
		a.Touch(s.now())
		updated = a
		return tx.Update(ctx, a)
	})
	if err != nil {
		s.discard(ctx, key)
		return nil, err
	}
	stats.Add(statAvatarUploads, 1)

	if prev.AvatarKey != "" && prev.AvatarKey != key {
		s.removePrevious(ctx, actorID, prev.AvatarKey)
	}
	s.Sync.AfterCommit(ctx, &prev, updated)
	helpers.LogInfo(s.Logger, "avatar updated", logrus.Fields{"user_id": actorID, "key": key})

	return &AvatarResult{Key: key, URL: s.URL(key), Account: updated}, nil
}

// discard removes a file that never became referenced.
func (s *AvatarService) discard(ctx context.Context, key string) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.Store.Delete(c, key); err != nil {
		stats.Add(statAvatarCleanupFailures, 1)
		helpers.LogWarn(s.Logger, "remove unreferenced avatar failed", err, logrus.Fields{"key": key})
	}
}

func (s *AvatarService) removePrevious(ctx context.Context, actorID int64, key string) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	exists, err := s.Store.Exists(c, key)
	if err == nil && !exists {
		return
	}
	if err == nil {
		err = s.Store.Delete(c, key)
	}
	if err != nil {
		stats.Add(statAvatarCleanupFailures, 1)
		helpers.LogWarn(s.Logger, "remove previous avatar failed", err, logrus.Fields{"user_id": actorID, "key": key})
	}
}

func isImageType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "image/") && len(ct) > len("image/")
}

// avatarKey builds avatars/<id>/<uuid><ext>.
func avatarKey(actorID int64, id, filename string) string {
	return "avatars/" + strconv.FormatInt(actorID, 10) + "/" + id + avatarExt(filename)
}

// avatarExt keeps a short alphanumeric extension from the client's filename
// and falls back to .jpg.
func avatarExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(strings.ReplaceAll(filename, `\`, "/"))))
	if len(ext) < 2 || len(ext) > 6 {
		return defaultAvatarExt
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultAvatarExt
		}
	}
	return ext
}

// remaining reports the unread length of r when r can seek. The read
// position is restored.
func remaining(r io.Reader) (int64, bool) {
	sk, ok := r.(io.Seeker)
	if !ok {
		return 0, false
	}
	cur, err := sk.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false
	}
	end, err := sk.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, false
	}
	if _, err := sk.Seek(cur, io.SeekStart); err != nil {
		return 0, false
	}
	return end - cur, true
}

// capReader fails with entity.ErrFileTooLarge once more than left bytes
// have been read.
type capReader struct {
	r    io.Reader
	left int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.left < 0 {
		return 0, entity.ErrFileTooLarge
	}
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, entity.ErrFileTooLarge
	}
	return n, err
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
