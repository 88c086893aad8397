package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	iss := NewIssuer("s3cret", time.Hour)

	tok, err := iss.MakeToken("D1", RoleDispatcher)
	if err != nil {
		t.Fatalf("MakeToken: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	claims, err := iss.ParseTokenFromRequest(r)
	if err != nil {
		t.Fatalf("ParseTokenFromRequest: %v", err)
	}
	if claims.DeliveryID != "D1" || claims.Role != RoleDispatcher || !claims.CanControl() {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenRejectedWithOtherSecret(t *testing.T) {
	tok, _ := NewIssuer("one", time.Hour).MakeToken("D1", RoleCustomer)
	if _, err := NewIssuer("two", time.Hour).ParseToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	iss := NewIssuer("s", time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, _ := iss.MakeToken("D1", RoleCustomer)

	if _, err := NewIssuer("s", time.Minute).ParseToken(tok); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestMissingBearer(t *testing.T) {
	iss := NewIssuer("s", time.Hour)
	for _, h := range []string{"", "Basic abc", "Bearer"} {
		r := httptest.NewRequest("GET", "/", nil)
		if h != "" {
			r.Header.Set("Authorization", h)
		}
		if _, err := iss.ParseTokenFromRequest(r); err == nil {
			t.Errorf("header %q accepted", h)
		}
	}
}
