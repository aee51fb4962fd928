package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/saravenpi/unimatch/internal/blob"
	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

type Firestore struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

// Actor is the signed-in user. Sign-up and login live in the web app; the CLI only carries
// the resulting identity.
type Actor struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name,omitempty"`
	Verified bool   `yaml:"verified"`
}

type Chat struct {
	MaxImageMB        int64         `yaml:"max_image_mb"`
	MaxVoiceMB        int64         `yaml:"max_voice_mb"`
	TypingIdle        time.Duration `yaml:"typing_idle"`
	OfflineTimeout    time.Duration `yaml:"offline_timeout"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	File   string `yaml:"file,omitempty"`
}

type Config struct {
	Backend     string        `yaml:"backend"`
	SQLitePath  string        `yaml:"sqlite_path,omitempty"`
	Firestore   Firestore     `yaml:"firestore,omitempty"`
	S3          blob.S3Config `yaml:"s3,omitempty"`
	Actor       Actor         `yaml:"actor"`
	Chat        Chat          `yaml:"chat"`
	Log         Log           `yaml:"log"`
	MetricsAddr string        `yaml:"metrics_addr,omitempty"`
}

// GetConfigDir returns the path to the config directory (~/.unimatch).
func GetConfigDir() string {
	if dir := os.Getenv("UNIMATCH_HOME"); dir != "" {
		return dir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".unimatch")
}

// GetConfigPath returns the path to config.yml inside the config directory.
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yml")
}

// Default returns the configuration used when no file exists.
func Default() Config {
	dir := GetConfigDir()
	return Config{
		Backend:    BackendSQLite,
		SQLitePath: filepath.Join(dir, "unimatch.db"),
		Chat: Chat{
			MaxImageMB:        25,
			MaxVoiceMB:        10,
			TypingIdle:        800 * time.Millisecond,
			OfflineTimeout:    2 * time.Second,
			UploadConcurrency: 4,
		},
		Log: Log{
			Level: "info",
			File:  filepath.Join(dir, "unimatch.log"),
		},
	}
}

// Load reads path (the default config path when empty) over the defaults, then applies a .env
// file from the working directory and UNIMATCH_* environment overrides. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = GetConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"UNIMATCH_BACKEND":               &c.Backend,
		"UNIMATCH_SQLITE_PATH":           &c.SQLitePath,
		"UNIMATCH_FIRESTORE_PROJECT":     &c.Firestore.ProjectID,
		"GOOGLE_APPLICATION_CREDENTIALS": &c.Firestore.CredentialsFile,
		"UNIMATCH_S3_ENDPOINT":           &c.S3.Endpoint,
		"UNIMATCH_S3_REGION":             &c.S3.Region,
		"UNIMATCH_S3_BUCKET":             &c.S3.Bucket,
		"UNIMATCH_S3_ACCESS_KEY_ID":      &c.S3.AccessKeyID,
		"UNIMATCH_S3_SECRET_ACCESS_KEY":  &c.S3.SecretAccessKey,
		"UNIMATCH_S3_PUBLIC_URL":         &c.S3.PublicURL,
		"UNIMATCH_ACTOR_ID":              &c.Actor.ID,
		"UNIMATCH_ACTOR_NAME":            &c.Actor.Name,
		"UNIMATCH_LOG_LEVEL":             &c.Log.Level,
		"UNIMATCH_LOG_FILE":              &c.Log.File,
		"UNIMATCH_METRICS_ADDR":          &c.MetricsAddr,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	flags := map[string]*bool{
		"UNIMATCH_ACTOR_VERIFIED":      &c.Actor.Verified,
		"UNIMATCH_LOG_PRETTY":          &c.Log.Pretty,
		"UNIMATCH_S3_FORCE_PATH_STYLE": &c.S3.ForcePathStyle,
	}
	for key, dst := range flags {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks the settings the app cannot start without.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path cannot be empty")
		}
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("firestore.project_id is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown backend: %q", c.Backend)
	}
	if c.Chat.UploadConcurrency < 0 {
		return fmt.Errorf("chat.upload_concurrency cannot be negative")
	}
	return nil
}

// Save writes cfg to path (the default config path when empty).
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Init writes a default configuration for actor. An existing file is left untouched.
func Init(path string, actor Actor) (string, error) {
	if path == "" {
		path = GetConfigPath()
	}
	if actor.ID == "" {
		return path, fmt.Errorf("actor id cannot be empty")
	}
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists at %s", path)
	} else if !os.IsNotExist(err) {
		return path, fmt.Errorf("failed to check config file: %w", err)
	}

	cfg := Default()
	cfg.Actor = actor
	if err := cfg.Validate(); err != nil {
		return path, err
	}
	return path, Save(cfg, path)
}
