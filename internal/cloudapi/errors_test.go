package cloudapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
)

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		et   ErrorType
		want string
	}{
		{ErrTypeNetwork, "Network Error"},
		{ErrTypeAuth, "Authentication Error"},
		{ErrTypeHTTP, "HTTP Error"},
		{ErrTypeParse, "Parse Error"},
		{ErrTypeTimeout, "Timeout"},
		{ErrTypeDNS, "DNS Error"},
		{ErrorType(99), "ErrorType(99)"},
	}

	for _, tt := range tests {
		if got := tt.et.String(); got != tt.want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", int(tt.et), got, tt.want)
		}
	}
}

func TestNewHTTPError_Retryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, true},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		err := NewHTTPError(tt.status, "boom")
		if err.Retryable != tt.want {
			t.Errorf("NewHTTPError(%d).Retryable = %v, want %v", tt.status, err.Retryable, tt.want)
		}
	}
}

func TestAPIError_Wrapping(t *testing.T) {
	cause := errors.New("underlying")
	err := fmt.Errorf("login: %w", NewParseError("bad json", cause))

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the underlying error")
	}
	if !IsParseError(err) {
		t.Error("IsParseError should see through fmt.Errorf wrapping")
	}
	if !strings.Contains(err.Error(), "caused by: underlying") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"timeout", context.DeadlineExceeded, ErrTypeTimeout, true},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, ErrTypeDNS, false},
		{"dns temporary", &net.DNSError{Err: "server misbehaving", Name: "x", IsTemporary: true}, ErrTypeDNS, true},
		{"generic", errors.New("connection reset"), ErrTypeNetwork, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewNetworkError("request failed", tt.err)
			if got.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", got.Type, tt.wantType)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
		})
	}
}

func TestShortMessage(t *testing.T) {
	if got := ShortMessage(NewAuthError("nope")); !strings.Contains(got, "Login rejected") {
		t.Errorf("ShortMessage(auth) = %q", got)
	}
	if got := ShortMessage(NewHTTPError(503, "x")); got != "Ryobi cloud error (HTTP 503)" {
		t.Errorf("ShortMessage(http) = %q", got)
	}
	if got := ShortMessage(errors.New("plain")); got != "plain" {
		t.Errorf("ShortMessage(plain) = %q", got)
	}
}
