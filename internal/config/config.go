// Package config loads picvault settings from the environment, an optional .env file and an
// optional YAML file of per-kind size profiles.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"picvault/internal/attachment"
	"picvault/internal/sizespec"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultProfile is the profile used for kinds without their own entry.
const DefaultProfile = "default"

// Config holds every runtime setting.
type Config struct {
	DataDir      string `env:"PICVAULT_DATA_DIR,default=data"`
	PublicDir    string `env:"PICVAULT_PUBLIC_DIR"`
	Folder       string `env:"PICVAULT_FOLDER,default=attachments"`
	ImportDir    string `env:"PICVAULT_IMPORT_DIR"`
	DefaultSizes string `env:"PICVAULT_DEFAULT_SIZES"`
	ProfilesFile string `env:"PICVAULT_PROFILES_FILE"`

	JPEGQuality  int  `env:"PICVAULT_JPEG_QUALITY,default=75"`
	GIFAnimation bool `env:"PICVAULT_GIF_ANIMATION,default=true"`
	Parallelism  int  `env:"PICVAULT_PARALLELISM,default=4"`

	Port  string `env:"PORT,default=8080"`
	Debug bool   `env:"DEBUG"`

	JWTSecret         string `env:"PICVAULT_JWT_SECRET"`
	AdminUser         string `env:"PICVAULT_ADMIN_USER,default=admin"`
	AdminPasswordHash string `env:"PICVAULT_ADMIN_PASSWORD_HASH"`

	SweepSchedule  string `env:"PICVAULT_SWEEP_SCHEDULE,default=@daily"`
	BackupSchedule string `env:"PICVAULT_BACKUP_SCHEDULE"`
	BackupTarget   string `env:"PICVAULT_BACKUP_TARGET,default=s3"`

	WebDAVURL      string `env:"PICVAULT_WEBDAV_URL"`
	WebDAVUser     string `env:"PICVAULT_WEBDAV_USER"`
	WebDAVPassword string `env:"PICVAULT_WEBDAV_PASSWORD"`

	S3Endpoint  string `env:"PICVAULT_S3_ENDPOINT"`
	S3Region    string `env:"PICVAULT_S3_REGION,default=us-east-1"`
	S3Bucket    string `env:"PICVAULT_S3_BUCKET"`
	S3AccessKey string `env:"PICVAULT_S3_ACCESS_KEY"`
	S3SecretKey string `env:"PICVAULT_S3_SECRET_KEY"`

	Profiles map[string]attachment.Profile
}

// Load reads .env files (missing ones are ignored) and then the process environment.
func Load(dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, err
	}
	return FromEnvSet(afero.NewOsFs(), es)
}

// FromEnvSet builds a Config from an explicit set of variables, reading the profiles file from fsys.
func FromEnvSet(fsys afero.Fs, es env.EnvSet) (*Config, error) {
	cfg := &Config{}
	if err := env.Unmarshal(es, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.PublicDir == "" {
		cfg.PublicDir = filepath.Join(cfg.DataDir, "public")
	}
	if cfg.ImportDir == "" {
		cfg.ImportDir = filepath.Join(cfg.DataDir, "incoming")
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("PICVAULT_JPEG_QUALITY must be between 1 and 100, got %d", cfg.JPEGQuality)
	}

	profiles, err := LoadProfiles(fsys, cfg.ProfilesFile)
	if err != nil {
		return nil, err
	}
	if _, ok := profiles[DefaultProfile]; !ok {
		profiles[DefaultProfile] = attachment.Profile{Sizes: splitList(cfg.DefaultSizes)}
	}
	cfg.Profiles = profiles
	return cfg, nil
}

// LoadProfiles reads a YAML map of kind to profile. An empty path yields no profiles.
// Every declared token must be recognized.
func LoadProfiles(fsys afero.Fs, path string) (map[string]attachment.Profile, error) {
	profiles := map[string]attachment.Profile{}
	if path == "" {
		return profiles, nil
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}

	for kind, p := range profiles {
		tokens := p.Sizes
		if p.OriginalMaxSize != "" {
			tokens = append(append([]string(nil), tokens...), p.OriginalMaxSize)
		}
		for _, token := range tokens {
			if err := sizespec.Validate(token); err != nil {
				return nil, fmt.Errorf("profile %q: %w", kind, err)
			}
		}
	}
	return profiles, nil
}

// Profile returns the size profile for kind, falling back to the default profile.
func (c *Config) Profile(kind string) attachment.Profile {
	if p, ok := c.Profiles[kind]; ok {
		return p
	}
	return c.Profiles[DefaultProfile]
}

// DatabasePath is the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "picvault.db")
}

// DSN is the SQLite connection string for DatabasePath.
func (c *Config) DSN() string {
	return fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)", c.DatabasePath())
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
