package modules

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/profile-service/pkg/response"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemModule serves the banner at / and liveness at /health.
type SystemModule struct {
	AppName string
	Version string
	DB      Pinger
	Redis   *redis.Client
}

func NewSystemModule(appName, version string, db Pinger, rdb *redis.Client) *SystemModule {
	return &SystemModule{AppName: appName, Version: version, DB: db, Redis: rdb}
}

func (m *SystemModule) Register(rg *gin.RouterGroup) {
	rg.GET("/", m.root)
	rg.GET("/health", m.health)
}

func (m *SystemModule) root(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"name": m.AppName, "version": m.Version}, "welcome to "+m.AppName, nil)
}

func (m *SystemModule) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if m.DB != nil {
		checks["postgres"] = status(m.DB.Ping(ctx))
		healthy = healthy && checks["postgres"] == "ok"
	}
	if m.Redis != nil {
		checks["redis"] = status(m.Redis.Ping(ctx).Err())
		healthy = healthy && checks["redis"] == "ok"
	}
	if !healthy {
		response.Error[any](c, http.StatusServiceUnavailable, "unhealthy", checks)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok", "checks": checks}, "healthy", nil)
}

func status(err error) string {
	if err != nil {
		return "down"
	}
	return "ok"
}
