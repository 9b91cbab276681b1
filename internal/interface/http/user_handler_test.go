package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/profile-service/internal/application"
	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/internal/interface/middleware"
	"github.com/oksasatya/profile-service/pkg/helpers"
	"github.com/oksasatya/profile-service/pkg/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
	validation.Init()
}

var created = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type stubProfiles struct {
	account *entity.Account
	err     error

	gotUpdate   application.ProfileUpdate
	gotUsername string
	gotCurrent  string
	gotNext     string
}

func (s *stubProfiles) GetProfile(context.Context, int64) (*entity.Account, error) {
	return s.account, s.err
}

func (s *stubProfiles) UpdateProfile(_ context.Context, _ int64, in application.ProfileUpdate) (*entity.Account, error) {
	s.gotUpdate = in
	return s.account, s.err
}

func (s *stubProfiles) UpdateUsername(_ context.Context, _ int64, username string) (*entity.Account, error) {
	s.gotUsername = username
	return s.account, s.err
}

func (s *stubProfiles) ChangePassword(_ context.Context, _ int64, current, next string) error {
	s.gotCurrent, s.gotNext = current, next
	return s.err
}

type stubAvatars struct {
	got  application.AvatarUpload
	body []byte
	err  error
}

func (s *stubAvatars) SetAvatar(_ context.Context, id int64, up application.AvatarUpload) (*application.AvatarResult, error) {
	s.got = up
	s.body, _ = io.ReadAll(up.Body)
	if s.err != nil {
		return nil, s.err
	}
	a := sampleAccount()
	a.AvatarKey = "avatars/1/new.png"
	return &application.AvatarResult{Key: a.AvatarKey, URL: s.URL(a.AvatarKey), Account: a}, nil
}

func (s *stubAvatars) URL(key string) string { return "/uploads/" + key }

func sampleAccount() *entity.Account {
	return &entity.Account{
		ID: 1, Email: "li@x.com", Username: "li_bai", PasswordHash: "$2a$secret",
		IsActive: true, CreatedAt: created, UpdatedAt: created,
	}
}

func newEngine(h *UserHandler, uid int64) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid > 0 {
			c.Set(middleware.CtxUserIDKey, uid)
		}
		c.Next()
	})
	r.GET("/users/me", h.GetProfile)
	r.PUT("/users/me", h.UpdateProfile)
	r.PUT("/users/me/username", h.UpdateUsername)
	r.PUT("/users/me/password", h.ChangePassword)
	r.POST("/users/me/avatar", h.UploadAvatar)
	return r
}

type envelope struct {
	Status  int             `json:"status"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestGetProfile_HidesPasswordHash(t *testing.T) {
	a := sampleAccount()
	a.AvatarKey = "avatars/1/a.png"
	h := NewUserHandler(&stubProfiles{account: a}, &stubAvatars{}, helpers.NewNopLogger(), 0)

	w, env := do(t, newEngine(h, 1), http.MethodGet, "/users/me", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.NotContains(t, w.Body.String(), "secret")
	assert.NotContains(t, w.Body.String(), "password")

	var v profileView
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, "li_bai", v.Username)
	assert.Equal(t, "/uploads/avatars/1/a.png", v.AvatarURL)
}

func TestUpdateProfile_PartialFields(t *testing.T) {
	p := &stubProfiles{account: sampleAccount()}
	h := NewUserHandler(p, &stubAvatars{}, helpers.NewNopLogger(), 0)

	w, _ := do(t, newEngine(h, 1), http.MethodPut, "/users/me", `{"username":"du_fu"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, p.gotUpdate.Email.Present)
	assert.False(t, p.gotUpdate.Password.Present)
	assert.Equal(t, application.Some("du_fu"), p.gotUpdate.Username)
}

func TestUpdateProfile_ValidationErrors(t *testing.T) {
	h := NewUserHandler(&stubProfiles{account: sampleAccount()}, &stubAvatars{}, helpers.NewNopLogger(), 0)
	r := newEngine(h, 1)

	w, env := do(t, r, http.MethodPut, "/users/me", `{"email":"not-an-email","password":"123"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var details map[string]string
	require.NoError(t, json.Unmarshal(env.Error, &details))
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")

	w, _ = do(t, r, http.MethodPut, "/users/me/username", `{"username":"ab"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPut, "/users/me", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{entity.NewConflict(entity.FieldUsername), http.StatusConflict},
		{entity.ErrInvalidCredential, http.StatusBadRequest},
		{entity.ErrAccountInactive, http.StatusForbidden},
		{entity.ErrAccountNotFound, http.StatusNotFound},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := NewUserHandler(&stubProfiles{err: tc.err}, &stubAvatars{}, helpers.NewNopLogger(), 0)
			w, env := do(t, newEngine(h, 1), http.MethodPut, "/users/me/username", `{"username":"du_fu"}`)
			assert.Equal(t, tc.status, w.Code)
			assert.False(t, env.Success)
			assert.NotContains(t, env.Message, "connection refused")
		})
	}
}

func TestChangePassword(t *testing.T) {
	p := &stubProfiles{account: sampleAccount()}
	h := NewUserHandler(p, &stubAvatars{}, helpers.NewNopLogger(), 0)

	w, env := do(t, newEngine(h, 1), http.MethodPut, "/users/me/password", `{"current_password":"secret1","new_password":"brand-new"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":true}`, string(env.Data))
	assert.Equal(t, "secret1", p.gotCurrent)
	assert.Equal(t, "brand-new", p.gotNext)
}

func TestRequiresActor(t *testing.T) {
	h := NewUserHandler(&stubProfiles{account: sampleAccount()}, &stubAvatars{}, helpers.NewNopLogger(), 0)
	w, _ := do(t, newEngine(h, 0), http.MethodGet, "/users/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func multipartRequest(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/users/me/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadAvatar(t *testing.T) {
	av := &stubAvatars{}
	h := NewUserHandler(&stubProfiles{}, av, helpers.NewNopLogger(), 1024)

	w := httptest.NewRecorder()
	newEngine(h, 1).ServeHTTP(w, multipartRequest(t, "file", "me.png", "image/png", []byte("png-bytes")))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "me.png", av.got.Filename)
	assert.Equal(t, "image/png", av.got.ContentType)
	assert.Equal(t, int64(9), av.got.Size)
	assert.Equal(t, "png-bytes", string(av.body))
	assert.Contains(t, w.Body.String(), "/uploads/avatars/1/new.png")
}

func TestUploadAvatar_Errors(t *testing.T) {
	t.Run("missing file field", func(t *testing.T) {
		h := NewUserHandler(&stubProfiles{}, &stubAvatars{}, helpers.NewNopLogger(), 1024)
		w := httptest.NewRecorder()
		newEngine(h, 1).ServeHTTP(w, multipartRequest(t, "avatar", "me.png", "image/png", []byte("x")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		h := NewUserHandler(&stubProfiles{}, &stubAvatars{err: entity.ErrInvalidFileType}, helpers.NewNopLogger(), 1024)
		w := httptest.NewRecorder()
		newEngine(h, 1).ServeHTTP(w, multipartRequest(t, "file", "notes.txt", "text/plain", []byte("x")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		h := NewUserHandler(&stubProfiles{}, &stubAvatars{err: entity.ErrFileTooLarge}, helpers.NewNopLogger(), 1024)
		w := httptest.NewRecorder()
		newEngine(h, 1).ServeHTTP(w, multipartRequest(t, "file", "big.png", "image/png", []byte("x")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
