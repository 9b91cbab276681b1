package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	handlers "github.com/oksasatya/profile-service/internal/interface/http"
	"github.com/oksasatya/profile-service/internal/interface/middleware"
	"github.com/oksasatya/profile-service/pkg/helpers"
)

// ProfileModule serves the signed-in actor's own profile.
//
//	GET  /users/me
//	PUT  /users/me
//	PUT  /users/me/username
//	PUT  /users/me/password
//	POST /users/me/avatar
type ProfileModule struct {
	Handler *handlers.UserHandler
	Redis   *redis.Client
	JWT     *helpers.JWTManager
}

func NewProfileModule(h *handlers.UserHandler, rdb *redis.Client, jwt *helpers.JWTManager) *ProfileModule {
	return &ProfileModule{Handler: h, Redis: rdb, JWT: jwt}
}

func (m *ProfileModule) Register(rg *gin.RouterGroup) {
	me := rg.Group("/users/me")
	me.Use(
		middleware.Auth(m.Redis, m.JWT),
		middleware.RateLimit(m.Redis, 120, time.Minute, middleware.KeyByUserID("profile"), nil),
	)
	me.GET("", m.Handler.GetProfile)

	writes := middleware.RateLimit(m.Redis, 20, time.Minute, middleware.KeyByUserID("profile-write"), nil)
	me.PUT("", writes, m.Handler.UpdateProfile)
	me.PUT("/username", writes, m.Handler.UpdateUsername)
	me.PUT("/password", writes, m.Handler.ChangePassword)
	me.POST("/avatar", writes, m.Handler.UploadAvatar)
}
