package auth_test

import (
	"attache/internal/auth"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicAuthEngine(t *testing.T) {
	t.Parallel()

	engine := auth.NewBasicAuthEngine("admin", "s3cr:et")

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "valid", header: basic("admin", "s3cr:et"), want: true},
		{name: "wrong password", header: basic("admin", "nope")},
		{name: "wrong user", header: basic("root", "s3cr:et")},
		{name: "missing header"},
		{name: "bearer", header: "Bearer token"},
		{name: "bad base64", header: "Basic !!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			ok, err := engine.AuthenticateRequest(req.Context(), req)
			require.NoError(t, err)
			require.Equal(t, tt.want, ok)
		})
	}
}

func TestAllowAll(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ok, err := auth.AllowAll{}.AuthenticateRequest(req.Context(), req)
	require.NoError(t, err)
	require.True(t, ok)
}

func basic(user, pass string) string {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(user, pass)
	return req.Header.Get("Authorization")
}
