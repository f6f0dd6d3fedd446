package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStateSigner_RoundTrip(t *testing.T) {
	s := NewStateSigner("secret-a")

	signed, err := s.Sign(StateClaims{
		Provider:     "google",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier-1",
		CallbackURL:  "/dashboard",
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := s.Parse(signed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Provider != "google" || claims.Nonce != "nonce-1" || claims.CodeVerifier != "verifier-1" || claims.CallbackURL != "/dashboard" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != stateIssuer {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
}

func TestStateSigner_Rejects(t *testing.T) {
	s := NewStateSigner("secret-a")
	signed, err := s.Sign(StateClaims{Provider: "google", Nonce: "n"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	t.Run("wrong secret", func(t *testing.T) {
		if _, err := NewStateSigner("secret-b").Parse(signed); err == nil {
			t.Error("expected error for a different secret")
		}
	})

	t.Run("expired", func(t *testing.T) {
		late := NewStateSigner("secret-a")
		late.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }
		if _, err := late.Parse(signed); err == nil {
			t.Error("expected error for an expired state")
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := s.Parse(""); err == nil {
			t.Error("expected error for empty state")
		}
	})

	t.Run("alg none", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, StateClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    stateIssuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		})
		unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("SignedString: %v", err)
		}
		if _, err := s.Parse(unsigned); err == nil {
			t.Error("expected error for alg=none")
		}
	})
}
