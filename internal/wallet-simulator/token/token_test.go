package token

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("s3cret")
	raw, err := iss.Issue("p1", "EUR", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c, err := iss.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if c.Subject != "p1" || c.Currency != "EUR" {
		t.Fatalf("unexpected claims %+v", c)
	}
}

func TestRejectsForeignAndExpiredTokens(t *testing.T) {
	iss := NewIssuer("s3cret")
	other, _ := NewIssuer("other").Issue("p1", "EUR", time.Minute)
	if _, err := iss.Parse(other); !errors.Is(err, ErrInvalid) {
		t.Fatalf("foreign token: %v", err)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return now }
	raw, _ := iss.Issue("p1", "EUR", time.Minute)
	iss.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := iss.Parse(raw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expired token: %v", err)
	}

	if _, err := iss.Parse("garbage"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("garbage: %v", err)
	}
}
