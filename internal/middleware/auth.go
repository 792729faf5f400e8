// Package middleware holds gin middleware for caller identity and metrics.
package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

const (
	headerAPIKey      = "X-API-Key"
	headerAuth        = "Authorization"
	bearerPrefix      = "Bearer "
	unauthorizedError = "Unauthorized"

	identityKey = "identity"
)

// Identity is the authenticated caller. Service callers act on behalf of
// any account; user callers only on their own.
type Identity struct {
	AccountID string
	Service   bool
}

// CanAct reports whether the caller may act on accountID.
func (i *Identity) CanAct(accountID string) bool {
	return i.Service || (i.AccountID != "" && i.AccountID == accountID)
}

// Auth authenticates requests by service key or HS256 session token.
type Auth struct {
	serviceKeys [][]byte
	jwtSecret   []byte
	logger      *zap.Logger
}

// NewAuth creates the identity middleware. Empty keys are ignored; with no
// keys and no secret every request is rejected.
func NewAuth(serviceKeys []string, jwtSecret string) *Auth {
	keys := make([][]byte, 0, len(serviceKeys))
	for _, key := range serviceKeys {
		if key != "" {
			keys = append(keys, []byte(key))
		}
	}

	return &Auth{
		serviceKeys: keys,
		jwtSecret:   []byte(jwtSecret),
		logger:      logger.Named("auth"),
	}
}

// Middleware resolves the caller identity or aborts with 401.
// It checks X-API-Key first, then an Authorization bearer credential, which
// may be either a service key or a session token.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := a.authenticate(c.Request)
		if err != nil {
			a.logger.Warn("Unauthorized request",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.String("remote_addr", c.ClientIP()),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": unauthorizedError})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireService rejects callers that are not service callers.
func RequireService() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok || !identity.Service {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": unauthorizedError})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the identity set by Middleware.
func GetIdentity(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok
}

func (a *Auth) authenticate(r *http.Request) (*Identity, error) {
	if apiKey := r.Header.Get(headerAPIKey); apiKey != "" {
		if a.isServiceKey(apiKey) {
			return &Identity{Service: true}, nil
		}
		return nil, errors.New("invalid API key")
	}

	authHeader := r.Header.Get(headerAuth)
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return nil, errors.New("missing credentials")
	}
	credential := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	if credential == "" {
		return nil, errors.New("missing credentials")
	}

	if a.isServiceKey(credential) {
		return &Identity{Service: true}, nil
	}

	accountID, err := a.parseSession(credential)
	if err != nil {
		return nil, err
	}
	return &Identity{AccountID: accountID}, nil
}

// isServiceKey compares in constant time against every configured key.
func (a *Auth) isServiceKey(provided string) bool {
	if provided == "" {
		return false
	}
	match := 0
	for _, key := range a.serviceKeys {
		match |= subtle.ConstantTimeCompare([]byte(provided), key)
	}
	return match == 1
}

func (a *Auth) parseSession(raw string) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errors.New("session tokens are not accepted")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("session token has no subject")
	}
	return claims.Subject, nil
}
