package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestResolvePassword(t *testing.T) {
	orig := keyringGet
	t.Cleanup(func() { keyringGet = orig })

	var gotService, gotUser string
	keyringGet = func(service, user string) (string, error) {
		gotService, gotUser = service, user
		if user == "missing" {
			return "", keyring.ErrNotFound
		}
		return "from-keyring", nil
	}

	tests := []struct {
		name         string
		smtp         SMTP
		wantPassword string
		wantLookup   bool
		wantErr      error
		wantErrText  string
	}{
		{
			name:         "keyring disabled",
			smtp:         SMTP{Username: "mailer", Password: "inline"},
			wantPassword: "inline",
		},
		{
			name:         "keyring used when no password is set",
			smtp:         SMTP{Username: "mailer", PasswordKeyring: true},
			wantPassword: "from-keyring",
			wantLookup:   true,
		},
		{
			name:         "explicit password wins over keyring",
			smtp:         SMTP{Username: "mailer", Password: "inline", PasswordKeyring: true},
			wantPassword: "inline",
		},
		{
			name:        "keyring requires a username",
			smtp:        SMTP{PasswordKeyring: true},
			wantErrText: "requires smtp.username",
		},
		{
			name:       "keyring entry missing",
			smtp:       SMTP{Username: "missing", PasswordKeyring: true},
			wantLookup: true,
			wantErr:    keyring.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotService, gotUser = "", ""
			cfg := Config{SMTP: tt.smtp}

			err := cfg.ResolvePassword()

			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.wantErrText != "":
				assert.ErrorContains(t, err, tt.wantErrText)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantPassword, cfg.SMTP.Password)
			}
			if tt.wantLookup {
				assert.Equal(t, KeyringService, gotService)
				assert.Equal(t, tt.smtp.Username, gotUser)
			} else {
				assert.Empty(t, gotService)
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("BULKMAIL_TEST_INT", "42")
	t.Setenv("BULKMAIL_TEST_BAD_INT", "forty-two")
	t.Setenv("BULKMAIL_TEST_BOOL", "No")
	t.Setenv("BULKMAIL_TEST_BAD_BOOL", "maybe")

	assert.Equal(t, 42, getEnvInt("BULKMAIL_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("BULKMAIL_TEST_BAD_INT", 1))
	assert.Equal(t, 7, getEnvInt("BULKMAIL_TEST_UNSET", 7))
	assert.False(t, getEnvBool("BULKMAIL_TEST_BOOL", true))
	assert.True(t, getEnvBool("BULKMAIL_TEST_BAD_BOOL", true))
	assert.Equal(t, "fallback", getEnvString("BULKMAIL_TEST_UNSET", "fallback"))
}
