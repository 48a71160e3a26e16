package validation

import (
	"strings"
	"testing"
)

func TestAuthRequestValidator_ValidateUsername(t *testing.T) {
	validator := NewAuthRequestValidator()

	tests := []struct {
		name     string
		username string
		wantErr  bool
		errMsg   string
	}{
		{name: "valid username", username: "sage_user-1", wantErr: false},
		{name: "minimum length", username: "abc", wantErr: false},
		{name: "empty", username: "", wantErr: true, errMsg: "username cannot be empty"},
		{name: "too short", username: "ab", wantErr: true, errMsg: "username must be at least 3 characters long"},
		{name: "too long", username: strings.Repeat("a", MaxUsernameLength+1), wantErr: true, errMsg: "username must be at most 50 characters long"},
		{name: "spaces", username: "two words", wantErr: true, errMsg: "username can only contain"},
		{name: "punctuation", username: "user@home", wantErr: true, errMsg: "username can only contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidateUsername() error message = %v, want substring %v", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestAuthRequestValidator_ValidatePassword(t *testing.T) {
	validator := NewAuthRequestValidator()

	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "demo123", false},
		{"bcrypt limit", strings.Repeat("p", MaxPasswordLength), false},
		{"empty", "", true},
		{"too short", "abc", true},
		{"past bcrypt limit", strings.Repeat("p", MaxPasswordLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validator.ValidatePassword(tt.password); (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthRequestValidator_ValidateEmail(t *testing.T) {
	validator := NewAuthRequestValidator()

	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"optional", "", false},
		{"valid", "demo@example.com", false},
		{"subdomain and plus", "a.b+sage@mail.example.org", false},
		{"missing at", "demo.example.com", true},
		{"missing tld", "demo@example", true},
		{"too long", strings.Repeat("a", MaxEmailLength) + "@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validator.ValidateEmail(tt.email); (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthRequestValidator_Requests(t *testing.T) {
	validator := NewAuthRequestValidator()

	if err := validator.ValidateLoginRequest("demo", "demo123"); err != nil {
		t.Errorf("ValidateLoginRequest() error = %v", err)
	}
	if err := validator.ValidateLoginRequest("", "demo123"); err == nil {
		t.Error("ValidateLoginRequest() without username error = nil")
	}
	if err := validator.ValidateLoginRequest("demo", ""); err == nil {
		t.Error("ValidateLoginRequest() without password error = nil")
	}

	if err := validator.ValidateRegisterRequest("newuser", "", "secret1"); err != nil {
		t.Errorf("ValidateRegisterRequest() error = %v", err)
	}
	if err := validator.ValidateRegisterRequest("newuser", "bad", "secret1"); err == nil {
		t.Error("ValidateRegisterRequest() bad email error = nil")
	}
	if err := validator.ValidateRegisterRequest("newuser", "", "123"); err == nil {
		t.Error("ValidateRegisterRequest() short password error = nil")
	}
}

func TestNormalizeUsername(t *testing.T) {
	if got := NormalizeUsername("  demo \n"); got != "demo" {
		t.Errorf("NormalizeUsername() = %q, want demo", got)
	}
}
