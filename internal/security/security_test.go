package security

import (
	"strings"
	"testing"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(8)
	if err != nil {
		t.Fatalf("GenerateSecureToken failed: %v", err)
	}
	if len(token) != 16 {
		t.Errorf("expected 16 hex characters, got %d", len(token))
	}

	other, err := GenerateSecureToken(8)
	if err != nil {
		t.Fatalf("GenerateSecureToken failed: %v", err)
	}
	if token == other {
		t.Error("two tokens must not collide")
	}

	fallback, err := GenerateSecureToken(0)
	if err != nil {
		t.Fatalf("GenerateSecureToken failed: %v", err)
	}
	if len(fallback) != 32 {
		t.Errorf("expected default 32 hex characters, got %d", len(fallback))
	}
}

func TestMaskPhoneNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+15551234567", "+15*******67"},
		{"15551234567", "15*******67"},
		{"+44", "***"},
		{"", "***"},
	}
	for _, c := range cases {
		if got := MaskPhoneNumber(c.in); got != c.want {
			t.Errorf("MaskPhoneNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if strings.Contains(MaskPhoneNumber("+15551234567"), "12345") {
		t.Error("masked number must not leak middle digits")
	}
}
