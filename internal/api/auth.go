package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/electionvote/internal/model"
)

// 认证协作方约定：令牌由外部认证服务签发，本服务只校验签名。
// 令牌格式: <role>:<subject>:<hex(hmac-sha256("<role>:<subject>", secret))>
const (
	RoleVoter = "voter"
	RoleAdmin = "admin"

	ctxKeyRole    = "auth.role"
	ctxKeySubject = "auth.subject"
)

// SignToken 生成令牌，测试和本地联调使用
func SignToken(role, subject, secret string) string {
	payload := role + ":" + subject
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return payload + ":" + hex.EncodeToString(mac.Sum(nil))
}

// ParseToken 校验令牌并返回角色与主体ID
func ParseToken(token, secret string) (role, subject string, err error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", "", model.ErrUnauthenticated
	}
	role, subject = parts[0], parts[1]
	if role != RoleVoter && role != RoleAdmin {
		return "", "", model.ErrUnauthenticated
	}

	payload := role + ":" + subject
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(parts[2]), []byte(expected)) {
		return "", "", model.ErrUnauthenticated
	}
	return role, subject, nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// AuthRequired 认证中间件，把角色和主体ID写入请求上下文
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortWithError(c, model.ErrUnauthenticated)
			return
		}

		role, subject, err := ParseToken(token, secret)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ctxKeyRole, role)
		c.Set(ctxKeySubject, subject)
		c.Next()
	}
}

// OptionalAuth 同AuthRequired，但缺失令牌时放行（匿名只读访问）
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		role, subject, err := ParseToken(token, secret)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ctxKeyRole, role)
		c.Set(ctxKeySubject, subject)
		c.Next()
	}
}

// AdminRequired 管理端权限中间件，必须在AuthRequired之后
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxKeyRole) != RoleAdmin {
			abortWithError(c, model.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func currentSubject(c *gin.Context) string {
	return c.GetString(ctxKeySubject)
}

func currentRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusForError(err), gin.H{
		"code":    model.ErrorCode(err),
		"message": err.Error(),
	})
}

// statusForError 把错误分类映射到HTTP状态码
func statusForError(err error) int {
	switch model.ErrorCode(err) {
	case "ELECTION_NOT_FOUND", "CANDIDATE_NOT_FOUND", "VOTER_NOT_FOUND":
		return http.StatusNotFound
	case "ALREADY_VOTED", "ELECTION_NOT_OPEN", "INVALID_TRANSITION", "ALREADY_IN_PHASE":
		return http.StatusConflict
	case "PROFILE_INCOMPLETE", "OUT_OF_SCOPE":
		return http.StatusForbidden
	case "TRANSIENT_FAILURE":
		return http.StatusServiceUnavailable
	case "UNAUTHENTICATED":
		return http.StatusUnauthorized
	case "UNAUTHORIZED":
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
