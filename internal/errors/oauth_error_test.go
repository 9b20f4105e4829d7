package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseOAuthError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantNil  bool
		wantCode string
		wantDesc string
	}{
		{
			name:     "rfc 6749 error",
			body:     `{"error":"invalid_client","error_description":"Request denied: Unsupported authentication method"}`,
			wantCode: "invalid_client",
			wantDesc: "Request denied: Unsupported authentication method",
		},
		{
			name:     "management style error",
			body:     `{"code":"INVALID_DATA","message":"The request could not be completed."}`,
			wantCode: "invalid_data",
			wantDesc: "The request could not be completed.",
		},
		{name: "no error member", body: `{"access_token":"x"}`, wantNil: true},
		{name: "not json", body: `<html>bad gateway</html>`, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOAuthError(400, []byte(tt.body))
			if tt.wantNil {
				if got != nil {
					t.Fatalf("ParseOAuthError() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("ParseOAuthError() = nil")
			}
			if got.Code != tt.wantCode || got.Description != tt.wantDesc {
				t.Errorf("got (%q, %q), want (%q, %q)", got.Code, got.Description, tt.wantCode, tt.wantDesc)
			}
			if got.StatusCode != 400 {
				t.Errorf("StatusCode = %d, want 400", got.StatusCode)
			}
		})
	}
}

func TestOAuthError_Is(t *testing.T) {
	err := fmt.Errorf("poll: %w", &OAuthError{Code: "slow_down"})
	if !errors.Is(err, &OAuthError{Code: "slow_down"}) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, &OAuthError{Code: "authorization_pending"}) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestFriendlyMessage(t *testing.T) {
	tests := []struct {
		code     string
		contains string
	}{
		{"invalid_grant", "already used"},
		{"INVALID_CLIENT", "client secret"},
		{" slow_down ", "interval"},
		{"", "failed"},
		{"made_up_code", `"made_up_code"`},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := FriendlyMessage(tt.code)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("FriendlyMessage(%q) = %q, want it to contain %q", tt.code, got, tt.contains)
			}
		})
	}
}
