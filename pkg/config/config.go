package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	// DefaultConfigPath is used when neither a flag nor BULKMAIL_CONFIG_PATH is set.
	DefaultConfigPath = "./config.yaml"
	// ConfigPathEnv overrides the config file location.
	ConfigPathEnv = "BULKMAIL_CONFIG_PATH"

	// RefreshAbort reconnects through the retrying connector after a batch
	// pause and aborts the run if that is exhausted.
	RefreshAbort = "abort"
	// RefreshTolerate makes a single reconnect attempt after a batch pause and
	// keeps going without a session if it fails.
	RefreshTolerate = "tolerate"
)

// Duration is a time.Duration that unmarshals from YAML strings such as "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// PasswordKeyring reads the password from the OS keyring
	// (service "bulkmail", user = Username) instead of the config file.
	PasswordKeyring bool `yaml:"passwordKeyring"`
	// SSL forces implicit TLS on or off. When unset, port 465 implies it.
	SSL *bool `yaml:"ssl"`
	// InsecureSkipVerify disables certificate chain and hostname checks.
	// Only for mail hosts with self-signed or legacy certificates.
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	LocalName          string `yaml:"localName"`
	// Timeout bounds the connect handshake and every send on a session.
	Timeout Duration `yaml:"timeout"`
}

// ImplicitTLS reports whether the connection is TLS-wrapped from the start
// rather than upgraded via STARTTLS.
func (s SMTP) ImplicitTLS() bool {
	if s.SSL != nil {
		return *s.SSL
	}
	return s.Port == 465
}

type Retry struct {
	MaxAttempts int      `yaml:"maxAttempts"`
	Delay       Duration `yaml:"delay"`
	// RetryAuthFailures treats rejected credentials like any other connect
	// error. Off by default: a wrong password stays wrong.
	RetryAuthFailures bool `yaml:"retryAuthFailures"`
}

type Pacing struct {
	BatchSize       int      `yaml:"batchSize"`
	InterSendDelay  Duration `yaml:"interSendDelay"`
	InterBatchPause Duration `yaml:"interBatchPause"`
	// MaxPerHour caps the overall send rate on top of the fixed delays. 0 disables it.
	MaxPerHour    int    `yaml:"maxPerHour"`
	RefreshPolicy string `yaml:"refreshPolicy"`
}

type Digest struct {
	Disabled      bool     `yaml:"disabled"`
	Interval      Duration `yaml:"interval"`
	Lines         int      `yaml:"lines"`
	Operator      string   `yaml:"operator"`
	SubjectPrefix string   `yaml:"subjectPrefix"`
}

// Signature is the block appended to every dispatched message.
type Signature struct {
	Closing      string   `yaml:"closing"`
	Name         string   `yaml:"name"`
	Title        string   `yaml:"title"`
	Email        string   `yaml:"email"`
	AddressLines []string `yaml:"addressLines"`
	Website      string   `yaml:"website"`
}

// IsZero reports whether no signature field is set.
func (s Signature) IsZero() bool {
	return s.Closing == "" && s.Name == "" && s.Title == "" && s.Email == "" &&
		len(s.AddressLines) == 0 && s.Website == ""
}

type Paths struct {
	// BaseDir holds the data/ and logs/ directories.
	BaseDir        string `yaml:"baseDir"`
	RecipientsFile string `yaml:"recipientsFile"`
	LogFile        string `yaml:"logFile"`
}

// DataDir is where the recipient list lives by default.
func (p Paths) DataDir() string { return filepath.Join(p.BaseDir, "data") }

// LogDir is where the log sink lives by default.
func (p Paths) LogDir() string { return filepath.Join(p.BaseDir, "logs") }

// EnsureDirs creates the data and log directories.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.DataDir(), p.LogDir(), filepath.Dir(p.LogFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

type Log struct {
	Debug bool `yaml:"debug"`
}

type Config struct {
	SMTP      SMTP      `yaml:"smtp"`
	Sender    string    `yaml:"sender"`
	Paths     Paths     `yaml:"paths"`
	Retry     Retry     `yaml:"retry"`
	Pacing    Pacing    `yaml:"pacing"`
	Digest    Digest    `yaml:"digest"`
	Signature Signature `yaml:"signature"`
	Log       Log       `yaml:"log"`
}

// Load loads the bulkmail configuration from a file path.
// If configPath is empty, BULKMAIL_CONFIG_PATH and then "./config.yaml" are used.
// A missing file at the default location is not an error; the built-in
// defaults plus environment overrides are returned instead.
func Load(configPath ...string) (Config, error) {
	path := ""
	explicit := false
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
		explicit = true
	} else if env := os.Getenv(ConfigPathEnv); env != "" {
		path = env
		explicit = true
	} else {
		path = DefaultConfigPath
	}

	var config Config

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return config, fmt.Errorf("trying to open bulkmail config file %s: %w", path, err)
	}

	config.ApplyEnv()
	config.Defaults()
	return config, nil
}

// Defaults fills every unset field with the values the dispatcher was tuned
// with: 10 messages per batch, 2 minutes between sends, 10 minutes between
// batches.
func (c *Config) Defaults() {
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 465
	}
	if c.SMTP.Timeout <= 0 {
		c.SMTP.Timeout = Duration(30 * time.Second)
	}
	if c.SMTP.Username == "" {
		c.SMTP.Username = c.Sender
	}
	if c.Sender == "" {
		c.Sender = c.SMTP.Username
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = Duration(5 * time.Second)
	}
	if c.Pacing.BatchSize == 0 {
		c.Pacing.BatchSize = 10
	}
	if c.Pacing.InterSendDelay == 0 {
		c.Pacing.InterSendDelay = Duration(2 * time.Minute)
	}
	if c.Pacing.InterBatchPause == 0 {
		c.Pacing.InterBatchPause = Duration(10 * time.Minute)
	}
	if c.Pacing.RefreshPolicy == "" {
		c.Pacing.RefreshPolicy = RefreshAbort
	}
	if c.Digest.Interval <= 0 {
		c.Digest.Interval = Duration(30 * time.Minute)
	}
	if c.Digest.Lines <= 0 {
		c.Digest.Lines = 50
	}
	if c.Digest.Operator == "" {
		c.Digest.Operator = c.Sender
	}
	if c.Digest.SubjectPrefix == "" {
		c.Digest.SubjectPrefix = "Dispatch log digest"
	}
	if c.Paths.BaseDir == "" {
		c.Paths.BaseDir = "."
	}
	if c.Paths.RecipientsFile == "" {
		c.Paths.RecipientsFile = filepath.Join(c.Paths.DataDir(), "email_list.txt")
	}
	if c.Paths.LogFile == "" {
		c.Paths.LogFile = filepath.Join(c.Paths.LogDir(), "email_log.txt")
	}
}

// Validate checks the settings a dispatch run cannot do without.
func (c Config) Validate() error {
	var errs []error
	if c.SMTP.Host == "" {
		errs = append(errs, errors.New("smtp.host is required"))
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("smtp.port must be between 1 and 65535, got %d", c.SMTP.Port))
	}
	if c.Sender == "" {
		errs = append(errs, errors.New("sender is required"))
	}
	if c.Pacing.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("pacing.batchSize must be positive, got %d", c.Pacing.BatchSize))
	}
	if c.Pacing.InterSendDelay < 0 || c.Pacing.InterBatchPause < 0 || c.Retry.Delay < 0 {
		errs = append(errs, errors.New("pacing and retry delays must not be negative"))
	}
	if c.Pacing.MaxPerHour < 0 {
		errs = append(errs, fmt.Errorf("pacing.maxPerHour must not be negative, got %d", c.Pacing.MaxPerHour))
	}
	switch c.Pacing.RefreshPolicy {
	case RefreshAbort, RefreshTolerate:
	default:
		errs = append(errs, fmt.Errorf("pacing.refreshPolicy must be %q or %q, got %q", RefreshAbort, RefreshTolerate, c.Pacing.RefreshPolicy))
	}
	return errors.Join(errs...)
}
