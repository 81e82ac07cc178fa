package auth

import (
	"fmt"
	"strings"

	"tracker-server/internal/apierrors"
	"tracker-server/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Processor validates bearer tokens for the ops API.
type Processor struct {
	jwtSecret string
	logger    *observability.Logger
}

// New creates a new auth Processor
func New(jwtSecret string, logger *observability.Logger) *Processor {
	return &Processor{jwtSecret: jwtSecret, logger: logger}
}

// ValidateToken parses and validates a signed ops token.
func (p *Processor) ValidateToken(token string) (jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(p.jwtSecret), nil
	})
	if err != nil {
		return jwt.RegisteredClaims{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return jwt.RegisteredClaims{}, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware guards ops routes with a bearer token check.
func (p *Processor) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			apierrors.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		claims, err := p.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			p.logger.Warn(c.Request.Context(), "rejected ops API token")
			apierrors.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		ctx := observability.WithFields(c.Request.Context(),
			observability.Field{Key: "operator", Value: claims.Subject})
		c.Request = c.Request.WithContext(ctx)
		c.Set("operator", claims.Subject)
		c.Next()
	}
}
