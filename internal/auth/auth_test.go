package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tracker-server/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestValidateToken(t *testing.T) {
	processor := New(testSecret, observability.NewLogger())

	valid := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "ops-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	claims, err := processor.ValidateToken(valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "ops-user" {
		t.Errorf("expected subject ops-user, got %q", claims.Subject)
	}
}

func TestValidateToken_Rejections(t *testing.T) {
	processor := New(testSecret, observability.NewLogger())

	tests := []struct {
		name  string
		token string
	}{
		{
			name: "wrong secret",
			token: signToken(t, "other-secret", jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}),
		},
		{
			name: "expired",
			token: signToken(t, testSecret, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			}),
		},
		{
			name:  "garbage",
			token: "not-a-token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := processor.ValidateToken(tt.token); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	processor := New(testSecret, observability.NewLogger())

	router := gin.New()
	router.GET("/protected", processor.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator": c.GetString("operator")})
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.RegisteredClaims{
			Subject:   "ops-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}
