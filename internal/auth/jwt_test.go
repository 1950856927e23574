package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateClientToken(testSecret, "patient-42", time.Hour)
	if err != nil {
		t.Fatalf("GenerateClientToken returned error: %v", err)
	}

	claims, err := ValidateToken(testSecret, token)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if claims.ClientID != "patient-42" || claims.Role != RoleClient {
		t.Errorf("Unexpected claims: %+v", claims)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	expired, _ := GenerateClientToken(testSecret, "c", -time.Minute)
	otherSecret, _ := GenerateClientToken([]byte("other"), "c", time.Hour)
	noClient, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{Role: RoleClient}).SignedString(testSecret)
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, &JWTClaims{ClientID: "c"}).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"other secret", otherSecret},
		{"missing client id", noClient},
		{"unexpected algorithm", wrongAlg},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(testSecret, tt.token); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if _, err := ValidateToken(testSecret, noClient); !errors.Is(err, ErrMissingClientID) {
		t.Errorf("Expected ErrMissingClientID, got %v", err)
	}
}

func TestGenerateClientToken_RequiresInputs(t *testing.T) {
	if _, err := GenerateClientToken(nil, "c", time.Hour); err == nil {
		t.Error("Expected error for empty secret")
	}
	if _, err := GenerateClientToken(testSecret, "", time.Hour); !errors.Is(err, ErrMissingClientID) {
		t.Errorf("Expected ErrMissingClientID, got %v", err)
	}
}
