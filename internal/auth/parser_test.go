package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"parking-service/internal/model"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParserParse(t *testing.T) {
	const secret = "test-secret"
	parser := NewParser(secret)
	userID := uuid.New()

	t.Run("valid token round trip", func(t *testing.T) {
		token := signToken(t, secret, Claims{
			UserID: userID,
			Role:   model.RoleCustomer,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})

		claims, err := parser.Parse(token)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if claims.UserID != userID {
			t.Errorf("UserID = %v, want %v", claims.UserID, userID)
		}
		if claims.Role != model.RoleCustomer {
			t.Errorf("Role = %v, want CUSTOMER", claims.Role)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, "other-secret", Claims{UserID: userID, Role: model.RoleOwner})
		if _, err := parser.Parse(token); err == nil {
			t.Error("Parse accepted a token signed with another secret")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, secret, Claims{
			UserID: userID,
			Role:   model.RoleCustomer,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		})
		if _, err := parser.Parse(token); err == nil {
			t.Error("Parse accepted an expired token")
		}
	})

	t.Run("missing user id", func(t *testing.T) {
		token := signToken(t, secret, Claims{Role: model.RoleCustomer})
		if _, err := parser.Parse(token); err == nil {
			t.Error("Parse accepted a token without a user id")
		}
	})

	t.Run("garbage input", func(t *testing.T) {
		if _, err := parser.Parse("not-a-token"); err == nil {
			t.Error("Parse accepted garbage")
		}
	})
}
