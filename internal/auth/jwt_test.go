package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestParseJWT(t *testing.T) {
	const secret = "test-secret"
	userID := uuid.New()

	valid, err := GenerateJWT(secret, userID, 42, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte(secret))
	foreign, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	noUser, _ := GenerateJWT(secret, uuid.Nil, 42, time.Hour)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr bool
	}{
		{"valid", valid, secret, false},
		{"wrong secret", valid, "other", true},
		{"expired", expired, secret, true},
		{"foreign issuer", foreign, secret, true},
		{"no user", noUser, secret, true},
		{"garbage", "not.a.token", secret, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseJWT(tt.secret, tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("err = %v, want ErrInvalidToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseJWT: %v", err)
			}
			if claims.UserID != userID || claims.TelegramUserID != 42 {
				t.Errorf("claims = %+v", claims)
			}
		})
	}
}
