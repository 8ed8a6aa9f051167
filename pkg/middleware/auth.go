package middleware

import (
	"strings"
	"time"

	constants "SafeCircle/pkg/constant"
	"SafeCircle/pkg/errors"
	"SafeCircle/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the account service signs: sub is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Verify parses an HMAC signed token and returns its claims.
func (a *Authenticator) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, errors.Unauthorized("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.Unauthorized("token has no subject")
	}
	return claims, nil
}

// Issue signs a token for userID. Used by the dev CLI and tests; production
// tokens come from the account service.
func (a *Authenticator) Issue(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware requires a valid token in the Authorization header or the
// token query parameter and stores user_id and role on the context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFromRequest(c)
		if raw == "" {
			response.Error(c, errors.Unauthorized("missing token"))
			return
		}
		claims, err := a.Verify(raw)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(constants.UserField, claims.Subject)
		c.Set(constants.RoleField, claims.Role)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader(constants.HeaderAuthorization)); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return h
	}
	return strings.TrimSpace(c.Query("token"))
}

// CurrentUserID returns the authenticated user id or "".
func CurrentUserID(c *gin.Context) string {
	return currentUserID(c)
}

func currentUserID(c *gin.Context) string {
	return c.GetString(constants.UserField)
}
