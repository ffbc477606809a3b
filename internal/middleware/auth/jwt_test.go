package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testUserID = "550e8400-e29b-41d4-a716-446655440000"

func createJWT(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims(sub, role string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"email": "test@example.com",
		"role":  role,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func okHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func TestJWTMiddleware(t *testing.T) {
	cfg := JWTConfig{
		Secret:    "test-secret",
		Logger:    zap.NewNop(),
		SkipPaths: []string{"/health"},
	}

	tests := []struct {
		name         string
		path         string
		header       string
		expectedCode int
		expectedBody string
	}{
		{
			name:         "valid token",
			path:         "/api/v1/billing/payment-methods",
			header:       "Bearer " + createJWT(t, "test-secret", validClaims(testUserID, "authenticated")),
			expectedCode: http.StatusOK,
		},
		{
			name:         "skipped path",
			path:         "/health",
			expectedCode: http.StatusOK,
		},
		{
			name:         "missing header",
			path:         "/api/v1/billing/payment-methods",
			expectedCode: http.StatusUnauthorized,
			expectedBody: "MISSING_AUTH_HEADER",
		},
		{
			name:         "no bearer prefix",
			path:         "/api/v1/billing/payment-methods",
			header:       "Token abc",
			expectedCode: http.StatusUnauthorized,
			expectedBody: "INVALID_AUTH_FORMAT",
		},
		{
			name:         "wrong secret",
			path:         "/api/v1/billing/payment-methods",
			header:       "Bearer " + createJWT(t, "other-secret", validClaims(testUserID, "authenticated")),
			expectedCode: http.StatusUnauthorized,
			expectedBody: "INVALID_TOKEN",
		},
		{
			name: "expired token",
			path: "/api/v1/billing/payment-methods",
			header: "Bearer " + createJWT(t, "test-secret", jwt.MapClaims{
				"sub": testUserID,
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
			expectedCode: http.StatusUnauthorized,
			expectedBody: "INVALID_TOKEN",
		},
		{
			name:         "subject is not a uuid",
			path:         "/api/v1/billing/payment-methods",
			header:       "Bearer " + createJWT(t, "test-secret", validClaims("not-a-uuid", "authenticated")),
			expectedCode: http.StatusUnauthorized,
			expectedBody: "INVALID_SUBJECT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := JWTMiddleware(cfg)(okHandler)(c)
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedCode, rec.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestJWTMiddleware_StoresUser(t *testing.T) {
	cfg := JWTConfig{Secret: "test-secret", Logger: zap.NewNop()}
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payment-methods", nil)
	req.Header.Set("Authorization", "Bearer "+createJWT(t, "test-secret", validClaims(testUserID, "authenticated")))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := JWTMiddleware(cfg)(func(c echo.Context) error {
		user, err := GetUserFromContext(c)
		require.NoError(t, err)
		assert.Equal(t, testUserID, user.UserID.String())
		assert.Equal(t, "test@example.com", user.Email)
		assert.Equal(t, "authenticated", user.Role)
		assert.Equal(t, testUserID, c.Get("user_id"))
		return okHandler(c)
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	cfg := JWTConfig{Secret: "test-secret", Logger: zap.NewNop()}

	tests := []struct {
		name         string
		role         string
		expectedCode int
	}{
		{name: "operator allowed", role: "service_role", expectedCode: http.StatusOK},
		{name: "user forbidden", role: "authenticated", expectedCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/billing/runs", nil)
			req.Header.Set("Authorization", "Bearer "+createJWT(t, "test-secret", validClaims(testUserID, tt.role)))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := JWTMiddleware(cfg)(RequireRole("service_role", zap.NewNop())(okHandler))
			require.NoError(t, h(c))
			assert.Equal(t, tt.expectedCode, rec.Code)
		})
	}
}

func TestRequireRole_WithoutAuthentication(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	require.NoError(t, RequireRole("service_role", zap.NewNop())(okHandler)(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
