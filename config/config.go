package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig
	Rates     RatesConfig
	S3        S3Config
	Scheduler SchedulerConfig
	LogPath   string
	LogLevel  string
	Regions   map[string]*RegionConfig
}

type DatabaseConfig struct {
	URL       string
	CachePath string
}

type RatesConfig struct {
	BaseURL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

// RegionConfig is a named map area the refresh worker keeps warm.
type RegionConfig struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	LatMin float64 `yaml:"lat_min"`
	LatMax float64 `yaml:"lat_max"`
	LngMin float64 `yaml:"lng_min"`
	LngMax float64 `yaml:"lng_max"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL:       os.Getenv("DATABASE_URL"),
			CachePath: getEnv("CACHE_PATH", "listings.db"),
		},
		Rates: RatesConfig{
			BaseURL: getEnv("RATES_BASE_URL", "https://open.er-api.com"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("REFRESH_CRON"),
		},
		LogPath:  getEnv("LOG_PATH", "subletsync.log"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Regions:  make(map[string]*RegionConfig),
	}

	if interval := os.Getenv("REFRESH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadRegionConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadRegionConfigs() error {
	configDir := "config/regions"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var region RegionConfig
		if err := yaml.Unmarshal(data, &region); err != nil {
			return err
		}

		c.Regions[region.ID] = &region
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
