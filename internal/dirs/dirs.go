// Package dirs resolves where clavier keeps its data: the registry database,
// performance and seed MIDI files, and named serving models. Values come
// from config.yaml in the data directory when present, overridden by
// environment variables (a .env file is honored via godotenv).
package dirs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MirrorConfig enables the optional S3-compatible artifact mirror. The
// mirror is off unless an endpoint is configured.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type Config struct {
	DataDir      string       `yaml:"-"`
	RegistryPath string       `yaml:"-"`
	ServeAddr    string       `yaml:"serve_addr"`
	Mirror       MirrorConfig `yaml:"mirror"`
}

func New() (*Config, error) {
	// A .env next to the binary is a convenience for local setups; absence
	// is not an error.
	godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("CLAVIER_DATA_DIR", filepath.Join(homeDir, ".clavier"))

	c := &Config{
		DataDir:      dataDir,
		RegistryPath: filepath.Join(dataDir, "clavier.db"),
		ServeAddr:    ":5000",
	}

	if err := c.loadYAML(filepath.Join(dataDir, "config.yaml")); err != nil {
		return nil, err
	}
	c.applyEnv()

	return c, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServeAddr = getEnv("CLAVIER_SERVE_ADDR", c.ServeAddr)
	c.Mirror.Endpoint = getEnv("CLAVIER_MIRROR_ENDPOINT", c.Mirror.Endpoint)
	c.Mirror.AccessKey = getEnv("CLAVIER_MIRROR_ACCESS_KEY", c.Mirror.AccessKey)
	c.Mirror.SecretKey = getEnv("CLAVIER_MIRROR_SECRET_KEY", c.Mirror.SecretKey)
	c.Mirror.Bucket = getEnv("CLAVIER_MIRROR_BUCKET", c.Mirror.Bucket)
	if v, err := strconv.ParseBool(os.Getenv("CLAVIER_MIRROR_USE_SSL")); err == nil {
		c.Mirror.UseSSL = v
	}
}

func (c *Config) PerformancesDir() string {
	return filepath.Join(c.DataDir, "performances")
}

func (c *Config) SeedsDir() string {
	return filepath.Join(c.DataDir, "seeds")
}

func (c *Config) ModelsDir() string {
	return filepath.Join(c.DataDir, "models")
}

func (c *Config) EnsureDataDirs() error {
	for _, dir := range []string{c.DataDir, c.PerformancesDir(), c.SeedsDir(), c.ModelsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
