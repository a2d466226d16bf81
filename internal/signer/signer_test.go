package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func TestCanonicalizeIsOrderAndWhitespaceInsensitive(t *testing.T) {
	a, err := Canonicalize([]byte(`{"b": 2, "a": {"y": [1, 2], "x": "<&>"}}`))
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	b, err := Canonicalize([]byte("{\n\"a\":{\"x\":\"<&>\",\"y\":[1,2]},\"b\":2}"))
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	want := `{"a":{"x":"<&>","y":[1,2]},"b":2}`
	if string(a) != want || string(b) != want {
		t.Fatalf("got %s / %s, want %s", a, b, want)
	}
}

func TestCanonicalizeKeepsLargeIntegers(t *testing.T) {
	got, err := Canonicalize([]byte(`{"amount":9007199254740993}`))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != `{"amount":9007199254740993}` {
		t.Fatalf("large integer lost precision: %s", got)
	}
}

func TestCanonicalizeNormalizesNumbers(t *testing.T) {
	cases := map[string][]string{
		`{"amount":100}`:   {`{"amount":100}`, `{"amount":1e2}`, `{"amount":100.0}`, `{"amount":1.00E+2}`, `{"amount":10000e-2}`},
		`{"amount":1.5}`:   {`{"amount":1.50}`, `{"amount":15e-1}`, `{"amount":0.15e1}`},
		`{"amount":0.001}`: {`{"amount":1e-3}`, `{"amount":0.0010}`},
		`{"amount":-2.25}`: {`{"amount":-225e-2}`, `{"amount":-2.250}`},
		`{"amount":0}`:     {`{"amount":-0}`, `{"amount":0.0}`, `{"amount":0e5}`},
		`[1,2.5]`:          {`[1.0, 25e-1]`},
	}
	for want, bodies := range cases {
		for _, body := range bodies {
			got, err := Canonicalize([]byte(body))
			if err != nil {
				t.Fatalf("canonicalize %s: %v", body, err)
			}
			if string(got) != want {
				t.Errorf("%s -> %s, want %s", body, got, want)
			}
		}
	}
}

func TestEquivalentNumbersShareSignature(t *testing.T) {
	s := New("k")
	sig := mustSign(t, s, []byte(`{"amount":100}`))
	for _, body := range []string{`{"amount":1e2}`, `{"amount":100.0}`} {
		if got := mustSign(t, s, []byte(body)); got != sig {
			t.Fatalf("%s signed differently", body)
		}
		if !s.Verify([]byte(body), sig) {
			t.Fatalf("verify %s", body)
		}
	}
}

func TestCanonicalizeRejectsHugeExponent(t *testing.T) {
	if _, err := Canonicalize([]byte(`{"amount":1e999999999}`)); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("err = %v", err)
	}
}

func TestCanonicalizeRejectsGarbage(t *testing.T) {
	for _, body := range []string{``, `{`, `{"a":1} {"b":2}`} {
		if _, err := Canonicalize([]byte(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestSignMatchesPlainHMAC(t *testing.T) {
	s := New("top-secret")
	body := []byte(`{"sessionId":"s1","amount":100}`)

	sig, err := s.Sign(body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	m := hmac.New(sha256.New, []byte("top-secret"))
	m.Write([]byte(`{"amount":100,"sessionId":"s1"}`))
	if want := hex.EncodeToString(m.Sum(nil)); sig != want {
		t.Fatalf("signature %s, want %s", sig, want)
	}
}

func TestSignValueAndVerify(t *testing.T) {
	s := New("k")
	body, sig, err := s.SignValue(struct {
		TransactionID string `json:"transactionId"`
		Amount        int64  `json:"amount"`
	}{"txn_001", 100})
	if err != nil {
		t.Fatalf("sign value: %v", err)
	}
	if string(body) != `{"amount":100,"transactionId":"txn_001"}` {
		t.Fatalf("body not canonical: %s", body)
	}
	if !s.Verify(body, sig) {
		t.Fatal("verify own signature")
	}
	if !s.Verify([]byte(`{ "transactionId":"txn_001", "amount":100 }`), sig) {
		t.Fatal("verify must accept semantically equal body")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := New("k")
	body := []byte(`{"amount":100}`)
	sig, _ := s.Sign(body)

	cases := map[string]struct {
		body []byte
		sig  string
	}{
		"missing":       {body, ""},
		"not_hex":       {body, "zz"},
		"altered_body":  {[]byte(`{"amount":101}`), sig},
		"other_secret":  {body, mustSign(t, New("other"), body)},
		"truncated_sig": {body, sig[:10]},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if s.Verify(tc.body, tc.sig) {
				t.Fatal("expected verification failure")
			}
		})
	}
}

func mustSign(t *testing.T, s *Signer, body []byte) string {
	t.Helper()
	sig, err := s.Sign(body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}
