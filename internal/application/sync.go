package application

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/pkg/helpers"
	"github.com/oksasatya/profile-service/pkg/mailer"
	"github.com/oksasatya/profile-service/pkg/mailer/templates"
)

const syncTimeout = 3 * time.Second

// Publisher puts a JSON message on the email queue.
type Publisher interface {
	PublishJSON(ctx context.Context, body any) error
}

// ProfileSync propagates a committed account change to the session store,
// the profile cache, the search index and the email queue. Every step is
// best effort: failures are logged and never reach the caller.
// A nil *ProfileSync does nothing.
type ProfileSync struct {
	Redis       *redis.Client
	CacheTTL    time.Duration
	ES          *elasticsearch.Client
	ESIndex     string
	Publisher   Publisher
	MailEnabled bool
	Brand       templates.Brand
	AvatarURL   func(key string) string
	Logger      *logrus.Logger
}

// AfterCommit runs all sync steps for the transition prev -> cur.
func (s *ProfileSync) AfterCommit(ctx context.Context, prev, cur *entity.Account) {
	if s == nil || prev == nil || cur == nil {
		return
	}
	// the record is already committed; a client disconnect must not skip the rest
	ctx = context.WithoutCancel(ctx)

	s.refreshSession(ctx, cur)
	s.storeProfile(ctx, cur)
	s.indexAccount(ctx, cur)
	s.notify(ctx, prev, cur)
}

func (s *ProfileSync) avatarURL(key string) string {
	if key == "" || s.AvatarURL == nil {
		return ""
	}
	return s.AvatarURL(key)
}

// refreshSession rewrites the profile fields of an existing session hash.
// Sessions are never created here, and their TTL is kept.
func (s *ProfileSync) refreshSession(ctx context.Context, a *entity.Account) {
	if s.Redis == nil {
		return
	}
	c, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	key := helpers.SessionKey(a.ID)
	n, err := s.Redis.Exists(c, key).Result()
	if err != nil {
		helpers.LogWarn(s.Logger, "redis session lookup failed", err, logrus.Fields{"key": key})
		return
	}
	if n == 0 {
		return
	}
	ttl, _ := s.Redis.TTL(c, key).Result()

	pipe := s.Redis.Pipeline()
	pipe.HSet(c, key, map[string]any{
		"email":      a.Email,
		"username":   a.Username,
		"avatar_url": s.avatarURL(a.AvatarKey),
		"updated_at": a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if ttl > 0 {
		pipe.Expire(c, key, ttl)
	}
	if _, err := pipe.Exec(c); err != nil {
		helpers.LogWarn(s.Logger, "redis pipeline failed", err, logrus.Fields{"key": key})
	}
}

// storeProfile overwrites the cached profile with the committed snapshot.
// Readers only fill the cache when the key is absent, so a load that started
// before the commit cannot replace this value. Without a TTL the entry is dropped.
func (s *ProfileSync) storeProfile(ctx context.Context, a *entity.Account) {
	if s.Redis == nil {
		return
	}
	c, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	key := helpers.ProfileCacheKey(a.ID)
	var err error
	if s.CacheTTL > 0 {
		err = helpers.RedisSetJSON(c, s.Redis, key, a, s.CacheTTL)
	} else {
		err = helpers.RedisDel(c, s.Redis, key)
	}
	if err != nil {
		helpers.LogWarn(s.Logger, "profile cache refresh failed", err, logrus.Fields{"user_id": a.ID})
	}
}

func (s *ProfileSync) indexAccount(ctx context.Context, a *entity.Account) {
	if s.ES == nil || s.ESIndex == "" {
		return
	}
	doc := map[string]any{
		"id":         a.ID,
		"email":      a.Email,
		"username":   a.Username,
		"avatar_url": s.avatarURL(a.AvatarKey),
		"is_active":  a.IsActive,
		"created_at": a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return
	}
	req := esapi.IndexRequest{
		Index:      s.ESIndex,
		DocumentID: strconv.FormatInt(a.ID, 10),
		Body:       bytes.NewReader(b),
		Refresh:    "false",
	}
	c, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		helpers.LogWarn(s.Logger, "es index failed", err, logrus.Fields{"user_id": a.ID})
		return
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		helpers.LogWarn(s.Logger, "es index response error", nil, logrus.Fields{"user_id": a.ID, "status": res.Status()})
	}
}

// notify queues a profile_updated email to the address the account had
// before the change, so an email change is reported to the old owner.
func (s *ProfileSync) notify(ctx context.Context, prev, cur *entity.Account) {
	if !s.MailEnabled || s.Publisher == nil {
		return
	}
	changes := changedFields(prev, cur)
	if len(changes) == 0 {
		return
	}
	job := mailer.EmailJob{
		To:       prev.Email,
		Template: templates.ProfileUpdated,
		Data: templates.NewProfileUpdatedData(s.Brand, cur.Username, prev.Email, changes,
			templates.WithTime(cur.UpdatedAt)),
	}
	c, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	if err := s.Publisher.PublishJSON(c, job); err != nil {
		helpers.LogWarn(s.Logger, "enqueue profile email failed", err, logrus.Fields{"user_id": cur.ID})
	}
}

// changedFields lists what moved between prev and cur. Secrets are reported
// as "updated", never by value.
func changedFields(prev, cur *entity.Account) map[string]string {
	ch := map[string]string{}
	if prev.Email != cur.Email {
		ch["email"] = cur.Email
	}
	if prev.Username != cur.Username {
		ch["username"] = cur.Username
	}
	if prev.PasswordHash != cur.PasswordHash {
		ch["password"] = "updated"
	}
	if prev.AvatarKey != cur.AvatarKey {
		ch["avatar"] = "updated"
	}
	return ch
}
