package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/profile-service/internal/application"
	"github.com/oksasatya/profile-service/internal/domain/entity"
	"github.com/oksasatya/profile-service/internal/interface/middleware"
	"github.com/oksasatya/profile-service/pkg/helpers"
	"github.com/oksasatya/profile-service/pkg/response"
	"github.com/oksasatya/profile-service/pkg/validation"
)

// multipart framing allowance on top of the avatar limit
const uploadOverhead = 1 << 20

type ProfileUseCase interface {
	GetProfile(ctx context.Context, actorID int64) (*entity.Account, error)
	UpdateProfile(ctx context.Context, actorID int64, in application.ProfileUpdate) (*entity.Account, error)
	UpdateUsername(ctx context.Context, actorID int64, username string) (*entity.Account, error)
	ChangePassword(ctx context.Context, actorID int64, current, next string) error
}

type AvatarUseCase interface {
	SetAvatar(ctx context.Context, actorID int64, up application.AvatarUpload) (*application.AvatarResult, error)
	URL(key string) string
}

type UserHandler struct {
	Profiles       ProfileUseCase
	Avatars        AvatarUseCase
	Logger         *logrus.Logger
	MaxUploadBytes int64
}

func NewUserHandler(profiles ProfileUseCase, avatars AvatarUseCase, logger *logrus.Logger, maxUploadBytes int64) *UserHandler {
	return &UserHandler{Profiles: profiles, Avatars: avatars, Logger: logger, MaxUploadBytes: maxUploadBytes}
}

type updateProfileRequest struct {
	Email    *string `json:"email" binding:"omitempty,email"`
	Username *string `json:"username" binding:"omitempty,uname"`
	Password *string `json:"password" binding:"omitempty,pwd"`
}

type updateUsernameRequest struct {
	Username string `json:"username" binding:"required,uname"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,min=6"`
	NewPassword     string `json:"new_password" binding:"required,pwd"`
}

type profileView struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsActive    bool      `json:"is_active"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (h *UserHandler) view(a *entity.Account) profileView {
	v := profileView{
		ID:          a.ID,
		Email:       a.Email,
		Username:    a.Username,
		IsActive:    a.IsActive,
		IsSuperuser: a.IsSuperuser,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	if a.HasAvatar() && h.Avatars != nil {
		v.AvatarURL = h.Avatars.URL(a.AvatarKey)
	}
	return v
}

func optional(p *string) application.Field[string] {
	if p == nil {
		return application.Field[string]{}
	}
	return application.Some(*p)
}

func (h *UserHandler) GetProfile(c *gin.Context) {
	uid, ok := actor(c)
	if !ok {
		return
	}
	a, err := h.Profiles.GetProfile(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.view(a), "profile", nil)
}

func (h *UserHandler) UpdateProfile(c *gin.Context) {
	uid, ok := actor(c)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	a, err := h.Profiles.UpdateProfile(c.Request.Context(), uid, application.ProfileUpdate{
		Email:    optional(req.Email),
		Username: optional(req.Username),
		Password: optional(req.Password),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.view(a), "profile updated", nil)
}

func (h *UserHandler) UpdateUsername(c *gin.Context) {
	uid, ok := actor(c)
	if !ok {
		return
	}
	var req updateUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	a, err := h.Profiles.UpdateUsername(c.Request.Context(), uid, req.Username)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.view(a), "username updated", nil)
}

func (h *UserHandler) ChangePassword(c *gin.Context) {
	uid, ok := actor(c)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	if err := h.Profiles.ChangePassword(c.Request.Context(), uid, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true}, "password updated", nil)
}

// UploadAvatar accepts multipart/form-data with the image in field "file".
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	uid, ok := actor(c)
	if !ok {
		return
	}
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+uploadOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(c, entity.ErrFileTooLarge)
			return
		}
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"file": "is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer func() { _ = f.Close() }()

	res, err := h.Avatars.SetAvatar(c.Request.Context(), uid, application.AvatarUpload{
		Body:        f,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.view(res.Account), "avatar updated", nil)
}

func actor(c *gin.Context) (int64, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		response.Error[any](c, http.StatusUnauthorized, "unauthorized", nil)
	}
	return uid, ok
}

// fail maps domain errors to HTTP statuses.
func (h *UserHandler) fail(c *gin.Context, err error) {
	if field, ok := entity.IsConflict(err); ok {
		response.Error[any](c, http.StatusConflict, err.Error(), map[string]string{string(field): "already taken"})
		return
	}
	switch {
	case errors.Is(err, entity.ErrInvalidCredential):
		response.Error[any](c, http.StatusBadRequest, err.Error(), map[string]string{"current_password": "is incorrect"})
	case errors.Is(err, entity.ErrInvalidFileType):
		response.Error[any](c, http.StatusBadRequest, err.Error(), map[string]string{"file": "must be an image"})
	case errors.Is(err, entity.ErrFileTooLarge):
		response.Error[any](c, http.StatusRequestEntityTooLarge, err.Error(), nil)
	case errors.Is(err, entity.ErrAccountInactive):
		response.Error[any](c, http.StatusForbidden, "inactive user", nil)
	case errors.Is(err, entity.ErrAccountNotFound):
		response.Error[any](c, http.StatusNotFound, "user not found", nil)
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the body
		c.Status(499)
	default:
		helpers.LogError(h.Logger, "profile request failed", err, logrus.Fields{
			"path":       c.FullPath(),
			"request_id": c.GetString("request_id"),
		})
		response.Error[any](c, http.StatusInternalServerError, "internal server error", nil)
	}
}
