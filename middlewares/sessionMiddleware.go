package middlewares

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type sessionInfo struct {
	WorkspaceId string `json:"workspace_id"`
	UserId      int    `json:"user_id"`
	UserName    string `json:"user_name"`
	IsAdmin     bool   `json:"is_admin"`
}

// SessionMiddleware resolves the caller's session token into workspace and
// user identity. Requests without a token pass through unauthenticated; route
// handlers that need a workspace reject them via RequireWorkspace.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		var session sessionInfo
		exists, err := config.GetRedisObject("Token:"+token, &session)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetWorkspaceIdInContext(ctx, session.WorkspaceId)
		ctx = utils.SetUserIdInContext(ctx, session.UserId)
		ctx = utils.SetUserNameInContext(ctx, session.UserName)
		ctx = utils.SetIsAdminInContext(ctx, session.IsAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// DevSessionMiddleware trusts identity headers directly. Enabled only when
// SESSION_DEV_HEADERS=true, for local work and integration tests where no
// session store is running.
func DevSessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId := c.Request.Header.Get("workspace-id")
		if workspaceId == "" {
			c.Next()
			return
		}
		ctx := utils.SetWorkspaceIdInContext(c.Request.Context(), workspaceId)
		if userId, err := strconv.Atoi(c.Request.Header.Get("user-id")); err == nil {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if userName := c.Request.Header.Get("user-name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CorrelationIdMiddleware tags each request with a correlation id, reusing the
// caller's when present so multi-service traces line up.
func CorrelationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.Request.Header.Get("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Correlation-Id", correlationId)
		c.Next()
	}
}

// RequireWorkspace guards routes that must run inside a tenant.
func RequireWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId, _ := utils.GetWorkspaceIdFromContext(c.Request.Context())
		if workspaceId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "workspace id is required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
