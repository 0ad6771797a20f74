/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the service configuration from a YAML file, an
// optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tomoncle/hotellisting/auth"
	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/utils"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// LoginRatePerMinute bounds login attempts per client address.
	LoginRatePerMinute int `yaml:"login_rate_per_minute"`
	LoginBurst         int `yaml:"login_burst"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"` // text or json
	FileEnabled bool   `yaml:"file_enabled"`
	FileDir     string `yaml:"file_dir"`
	MaxAgeDays  int    `yaml:"max_age_days"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AdminConfig names the administrator account created on first start.
type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type Config struct {
	AppEnv   string          `yaml:"app_env"`
	HTTP     HTTPConfig      `yaml:"http"`
	Log      LogConfig       `yaml:"log"`
	Database database.Config `yaml:"database"`
	Auth     auth.Config     `yaml:"auth"`
	Redis    RedisConfig     `yaml:"redis"`
	Admin    AdminConfig     `yaml:"admin"`
	// Seed loads the starter countries and hotels into an empty catalog.
	Seed bool `yaml:"seed"`
}

func Default() *Config {
	return &Config{
		AppEnv: EnvDevelopment,
		HTTP: HTTPConfig{
			Addr:               ":8080",
			ReadHeaderTimeout:  5 * time.Second,
			RequestTimeout:     30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			LoginRatePerMinute: 10,
			LoginBurst:         5,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			FileDir:    "logs",
			MaxAgeDays: 7,
		},
		Database: *database.DefaultConfig(),
		Auth:     auth.DefaultConfig(),
		Redis:    RedisConfig{Addr: "localhost:6379", KeyPrefix: auth.DefaultRedisKeyPrefix},
		Seed:     true,
	}
}

// Load builds the configuration. envFile is loaded when it exists; path is
// read when non-empty. DB_* variables are applied later by the database
// factory.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.AppEnv = utils.EnvDefaultString("APP_ENV", c.AppEnv)
	c.HTTP.Addr = utils.EnvDefaultString("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = utils.EnvDefaultString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = utils.EnvDefaultString("CONSOLE_LOG_FORMAT", c.Log.Format)
	c.Log.FileEnabled = utils.EnvDefaultBool("LOG_FILE_ENABLED", c.Log.FileEnabled)
	c.Seed = utils.EnvDefaultBool("SEED_REFERENCE_DATA", c.Seed)

	c.Auth.Key = utils.EnvDefaultString("JWT_KEY", c.Auth.Key)
	c.Auth.KeyID = utils.EnvDefaultString("JWT_KEY_ID", c.Auth.KeyID)
	c.Auth.Issuer = utils.EnvDefaultString("JWT_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = utils.EnvDefaultString("JWT_AUDIENCE", c.Auth.Audience)
	c.Auth.ValidateIssuer = utils.EnvDefaultBool("JWT_VALIDATE_ISSUER", c.Auth.ValidateIssuer)
	c.Auth.ValidateAudience = utils.EnvDefaultBool("JWT_VALIDATE_AUDIENCE", c.Auth.ValidateAudience)
	c.Auth.KeySource = utils.EnvDefaultString("JWT_KEY_SOURCE", c.Auth.KeySource)
	if ttl, err := time.ParseDuration(os.Getenv("JWT_TTL")); err == nil {
		c.Auth.TTL = ttl
	}

	c.Redis.Addr = utils.EnvDefaultString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = utils.EnvDefaultString("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = utils.EnvDefaultInt("REDIS_DB", c.Redis.DB)

	c.Admin.Email = utils.EnvDefaultString("ADMIN_EMAIL", c.Admin.Email)
	c.Admin.Password = utils.EnvDefaultString("ADMIN_PASSWORD", c.Admin.Password)
}

// IsDevelopment reports whether the service runs in a development
// environment.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", EnvDevelopment, "local":
		return true
	}
	return false
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.KeySource == auth.KeySourceRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for the redis key source"))
	}
	if (c.Admin.Email == "") != (c.Admin.Password == "") {
		errs = append(errs, errors.New("admin.email and admin.password must be set together"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
