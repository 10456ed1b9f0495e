package api

import (
	"strings"
	"testing"
)

func TestValidateTokenResponse(t *testing.T) {
	tests := []struct {
		name        string
		accessToken string
		tokenType   string
		expiresIn   int
		wantErr     bool
		errContains string
	}{
		{
			name:        "valid token response",
			accessToken: "valid-access-token-123456",
			tokenType:   "Bearer",
			expiresIn:   3600,
		},
		{
			name:        "lower-case bearer",
			accessToken: "valid-access-token-123456",
			tokenType:   "bearer",
			expiresIn:   3600,
		},
		{
			name:        "empty type and no expiry",
			accessToken: "valid-access-token-123456",
		},
		{
			name:        "empty access token",
			tokenType:   "Bearer",
			expiresIn:   3600,
			wantErr:     true,
			errContains: "access_token is empty",
		},
		{
			name:        "negative expires_in",
			accessToken: "valid-access-token-123456",
			expiresIn:   -1,
			wantErr:     true,
			errContains: "expires_in must not be negative",
		},
		{
			name:        "invalid token type",
			accessToken: "valid-access-token-123456",
			tokenType:   "Basic",
			wantErr:     true,
			errContains: "unexpected token_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTokenResponse(tt.accessToken, tt.tokenType, tt.expiresIn)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("validateTokenResponse() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("validateTokenResponse() expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("validateTokenResponse() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestParseTokenResponse(t *testing.T) {
	token, err := parseTokenResponse([]byte(`{"access_token":"abc","token_type":"Bearer"}`))
	if err != nil {
		t.Fatalf("parseTokenResponse() error = %v", err)
	}
	if !token.Expiry.IsZero() {
		t.Errorf("Expiry = %v, want zero when expires_in is absent", token.Expiry)
	}

	if _, err := parseTokenResponse([]byte(`not json`)); err == nil {
		t.Errorf("parseTokenResponse() expected error for malformed body")
	}
}

func TestIsAuthEndpoint(t *testing.T) {
	for path, want := range map[string]bool{
		"/auth/login":   true,
		"/auth/refresh": true,
		"/auth/me":      false,
		"/auth/logout":  false,
		"/articles":     false,
	} {
		if got := isAuthEndpoint(path); got != want {
			t.Errorf("isAuthEndpoint(%q) = %v, want %v", path, got, want)
		}
	}
}
