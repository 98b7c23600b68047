package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSignMatchesHMACSHA256Hex(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"request_id":"r1","status":"completed"}`)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))

	if got := Sign(payload, "secret"); got != want {
		t.Fatalf("Sign() = %s, want %s", got, want)
	}
	if got := Sign(payload, "secret"); got != want {
		t.Fatalf("Sign() not deterministic: %s", got)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload []byte
		secret  string
	}{
		{name: "json", payload: []byte(`{"a":1}`), secret: "k"},
		{name: "empty payload", payload: []byte{}, secret: "k"},
		{name: "binary", payload: []byte{0x00, 0xff, 0x10, 0x80}, secret: "another-secret"},
		{name: "unicode secret", payload: []byte("hello"), secret: "ключ"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sig := Sign(tc.payload, tc.secret)
			if !Verify(tc.payload, sig, tc.secret) {
				t.Fatal("Verify(sign(payload)) = false, want true")
			}
		})
	}
}

func TestVerifyRejectsAnyFlippedByte(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"request_id":"abc","status":"completed"}`)
	secret := "s3cret"
	sig := Sign(payload, secret)

	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		if Verify(mutated, sig, secret) {
			t.Fatalf("Verify() accepted payload with byte %d flipped", i)
		}
	}

	for i := range sig {
		b := []byte(sig)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		if Verify(payload, string(b), secret) {
			t.Fatalf("Verify() accepted signature with char %d changed", i)
		}
	}

	if Verify(payload, sig, "other") {
		t.Fatal("Verify() accepted wrong secret")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	t.Parallel()

	payload := []byte("x")
	for _, sig := range []string{"", "zz", "abcd", Sign(payload, "k")[:10]} {
		if Verify(payload, sig, "k") {
			t.Fatalf("Verify(%q) = true, want false", sig)
		}
	}
}

func TestVerifyAnySupportsRotation(t *testing.T) {
	t.Parallel()

	payload := []byte("rotate me")
	sig := Sign(payload, "next")

	if !VerifyAny(payload, sig, "current", "next") {
		t.Fatal("VerifyAny() = false, want true for next key")
	}
	if VerifyAny(payload, sig, "current", "") {
		t.Fatal("VerifyAny() = true without matching key")
	}
	if VerifyAny(payload, sig) {
		t.Fatal("VerifyAny() = true with no keys")
	}
}
