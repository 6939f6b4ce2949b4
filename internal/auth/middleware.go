package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserKey holds the authenticated username in the gin context.
const UserKey = "auth_user"

// GinAuth accepts "Authorization: Bearer <jwt>" or HTTP Basic credentials.
func (s *Service) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.authenticate(c.Request)
		if err != nil {
			c.Header("WWW-Authenticate", `Basic realm="hexanator"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(UserKey, user)
		c.Next()
	}
}

func (s *Service) authenticate(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			claims, err := s.Verify(strings.TrimSpace(token))
			if err != nil {
				return "", err
			}
			return claims.Username, nil
		}
	}
	if u, p, ok := r.BasicAuth(); ok {
		if err := s.CheckPassword(u, p); err != nil {
			return "", err
		}
		return u, nil
	}
	return "", ErrInvalidCredentials
}
