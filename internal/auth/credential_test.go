package auth

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseUserCredential(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantKind   string
		wantHeader string
	}{
		{"app user token", "ghu_abc123", "app_user", "Bearer ghu_abc123"},
		{"oauth app token", "gho_abc123", "classic", "token gho_abc123"},
		{"personal access token", "ghp_abc123", "classic", "token ghp_abc123"},
		{"legacy hex token", "0123456789abcdef", "classic", "token 0123456789abcdef"},
		{"surrounding whitespace", "  ghu_x \n", "app_user", "Bearer ghu_x"},
		{"prefix is case sensitive", "GHU_x", "classic", "token GHU_x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := ParseUserCredential(tt.raw)
			if err != nil {
				t.Fatalf("ParseUserCredential() error = %v", err)
			}
			if cred.Kind() != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", cred.Kind(), tt.wantKind)
			}
			if got := cred.AuthorizationHeader(); got != tt.wantHeader {
				t.Errorf("AuthorizationHeader() = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestParseUserCredential_Empty(t *testing.T) {
	for _, raw := range []string{"", "   "} {
		if _, err := ParseUserCredential(raw); !errors.Is(err, ErrEmptyCredential) {
			t.Errorf("ParseUserCredential(%q) error = %v, want ErrEmptyCredential", raw, err)
		}
	}
}

func TestUserCredential_FormattingRedacts(t *testing.T) {
	for _, raw := range []string{"ghu_secret", "gho_secret"} {
		cred, _ := ParseUserCredential(raw)
		if s := fmt.Sprint(cred); strings.Contains(s, "secret") {
			t.Errorf("fmt.Sprint(%T) = %q leaks the token", cred, s)
		}
	}
}
