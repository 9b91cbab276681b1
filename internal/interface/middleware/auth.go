package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/profile-service/pkg/helpers"
	"github.com/oksasatya/profile-service/pkg/response"
)

const CtxUserIDKey = "userID"

// Auth validates the access token and, when rdb is set, requires the session
// hash the login service wrote for the token's session id.
// The token is taken from "Authorization: Bearer" or the access_token cookie.
// On success the account id (int64) is stored under CtxUserIDKey.
func Auth(rdb *redis.Client, jwt *helpers.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c, "missing access token", nil)
			return
		}
		claims, err := jwt.ParseAccessToken(token)
		if err != nil {
			unauthorized(c, "invalid access token", err.Error())
			return
		}
		id, err := claims.AccountID()
		if err != nil {
			unauthorized(c, "invalid access token", err.Error())
			return
		}

		if rdb != nil {
			data, err := rdb.HGetAll(c.Request.Context(), helpers.SessionKey(id)).Result()
			if err != nil || len(data) == 0 || data["sid"] != claims.SessionID {
				unauthorized(c, "session not found", nil)
				return
			}
		}

		c.Set(CtxUserIDKey, id)
		c.Next()
	}
}

// UserID returns the authenticated account id set by Auth.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	tok, err := c.Cookie("access_token")
	if err != nil {
		return ""
	}
	return tok
}

func unauthorized(c *gin.Context, msg string, detail interface{}) {
	response.Error[any](c, http.StatusUnauthorized, msg, detail)
	c.Abort()
}
