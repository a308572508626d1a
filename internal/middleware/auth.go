package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/angwiki/modqueue-backend/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ctxActorKey     = "actor"
	ctxModeratorKey = "moderator"

	sessionHeader = "X-Session-Token"
	sessionCookie = "wiki_session"

	sessionCookieMaxAge = 60 * 60 * 24 * 30
)

// ResolveActor resolves the acting user for submission endpoints. A valid
// bearer token yields a registered actor with its capability grants; without
// one the request proceeds as an anonymous actor identified by session token.
// Request origin metadata is captured here so the interception pipeline
// records what the queue entry needs for later attribution.
func ResolveActor(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := domain.Actor{
			SessionToken: sessionToken(c),
			IP:           c.ClientIP(),
			XFF:          c.GetHeader("X-Forwarded-For"),
			UserAgent:    c.Request.UserAgent(),
		}

		if tokenString, ok := bearerToken(c); ok {
			claims, err := jwtManager.VerifyToken(tokenString)
			if err != nil {
				if errors.Is(err, jwt.ErrExpiredToken) {
					common.ErrorResponse(c, http.StatusUnauthorized, "Token expired", err)
				} else {
					common.ErrorResponse(c, http.StatusUnauthorized, "Invalid token", err)
				}
				c.Abort()
				return
			}
			actor.ID = claims.UserID
			actor.Name = claims.UserName
			actor.Capabilities = claims.Capabilities
		}

		// An anonymous actor without a session yet gets one minted here, so
		// the coalescing fingerprint is stable across their requests and
		// never shared between different anonymous users.
		if actor.ID == 0 && actor.SessionToken == "" {
			actor.SessionToken = uuid.New().String()
			c.SetCookie(sessionCookie, actor.SessionToken, sessionCookieMaxAge, "/", "", false, true)
		}

		// Anonymous actions are attributed to the connecting address
		if actor.Name == "" {
			actor.Name = actor.IP
		}

		c.Set(ctxActorKey, actor)
		c.Next()
	}
}

// RequireModerator guards the review endpoints. The token must be valid and
// carry the moderate capability.
func RequireModerator(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			common.ErrorResponse(c, http.StatusUnauthorized, "Missing authorization header", nil)
			c.Abort()
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				common.ErrorResponse(c, http.StatusUnauthorized, "Token expired", err)
			} else {
				common.ErrorResponse(c, http.StatusUnauthorized, "Invalid token", err)
			}
			c.Abort()
			return
		}

		if !claims.Has(domain.CapModerate) {
			common.ErrorResponse(c, http.StatusForbidden, "Moderator capability required", nil)
			c.Abort()
			return
		}

		c.Set(ctxModeratorKey, domain.Moderator{ID: claims.UserID, Name: claims.UserName})
		c.Next()
	}
}

// GetActor extracts the resolved actor from context
func GetActor(c *gin.Context) domain.Actor {
	if v, exists := c.Get(ctxActorKey); exists {
		if actor, ok := v.(domain.Actor); ok {
			return actor
		}
	}
	return domain.Actor{}
}

// GetModerator extracts the authenticated moderator from context
func GetModerator(c *gin.Context) domain.Moderator {
	if v, exists := c.Get(ctxModeratorKey); exists {
		if m, ok := v.(domain.Moderator); ok {
			return m
		}
	}
	return domain.Moderator{}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func sessionToken(c *gin.Context) string {
	if token := c.GetHeader(sessionHeader); token != "" {
		return token
	}
	if token, err := c.Cookie(sessionCookie); err == nil {
		return token
	}
	return ""
}
