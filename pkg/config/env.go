package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the keyring service name the SMTP password is stored under.
const KeyringService = "bulkmail"

// keyringGet is swapped out in tests.
var keyringGet = keyring.Get

// ApplyEnv overrides config values with BULKMAIL_* environment variables.
func (c *Config) ApplyEnv() {
	c.SMTP.Host = getEnvString("BULKMAIL_SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvInt("BULKMAIL_SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnvString("BULKMAIL_SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getEnvString("BULKMAIL_SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.InsecureSkipVerify = getEnvBool("BULKMAIL_SMTP_INSECURE_SKIP_VERIFY", c.SMTP.InsecureSkipVerify)
	c.Sender = getEnvString("BULKMAIL_SENDER", c.Sender)
	c.Digest.Operator = getEnvString("BULKMAIL_OPERATOR", c.Digest.Operator)
	c.Log.Debug = getEnvBool("BULKMAIL_DEBUG", c.Log.Debug)
}

// ResolvePassword fills SMTP.Password from the OS keyring when
// SMTP.PasswordKeyring is set. A password already present (config or env)
// wins over the keyring.
func (c *Config) ResolvePassword() error {
	if !c.SMTP.PasswordKeyring || c.SMTP.Password != "" {
		return nil
	}
	if c.SMTP.Username == "" {
		return fmt.Errorf("smtp.passwordKeyring requires smtp.username")
	}
	secret, err := keyringGet(KeyringService, c.SMTP.Username)
	if err != nil {
		return fmt.Errorf("reading smtp password for %s from keyring: %w", c.SMTP.Username, err)
	}
	c.SMTP.Password = secret
	return nil
}

// getEnvString returns the value of an environment variable or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
