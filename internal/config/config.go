package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const DefaultHTTPAddr = ":8080"

// Config represents config.toml in the data dir.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Push    PushConfig    `toml:"push"`
}

type ServerConfig struct {
	HTTPAddr string `toml:"http_addr"`
	// HealthSocket overrides the gRPC health socket; empty means pingyd.sock in the data dir.
	HealthSocket string `toml:"health_socket"`
	JWTSecret    string `toml:"jwt_secret"`
	LogLevel     string `toml:"log_level"`

	// AllowedOrigins lists host patterns (path.Match syntax) of web apps
	// allowed to open the WebSocket from another origin.
	AllowedOrigins []string `toml:"allowed_origins"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type PushConfig struct {
	WebPush WebPushConfig `toml:"webpush"`
	APNs    APNsConfig    `toml:"apns"`
}

type WebPushConfig struct {
	VAPIDPublicKey  string `toml:"vapid_public_key"`
	VAPIDPrivateKey string `toml:"vapid_private_key"`
	Subject         string `toml:"subject"`
}

type APNsConfig struct {
	KeyPath    string `toml:"key_path"`
	KeyID      string `toml:"key_id"`
	TeamID     string `toml:"team_id"`
	BundleID   string `toml:"bundle_id"`
	Production bool   `toml:"production"`
}

// Default returns a config with every optional field at its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: DefaultHTTPAddr,
			LogLevel: "info",
		},
		Storage: StorageConfig{DataDir: BaseDir()},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the effective config with precedence:
// 1. PINGY_* environment variables (a .env file in the working directory is loaded first)
// 2. the config file at path, or config.toml in the default data dir when path is empty
// 3. defaults
// A missing file is not an error unless path was given explicitly.
func Resolve(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	explicit := path != ""
	if !explicit {
		path = ConfigPath(envOr("PINGY_DATA_DIR", BaseDir()))
	}
	cfg, err := Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = Default()
	default:
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.HTTPAddr, "PINGY_HTTP_ADDR")
	setString(&cfg.Server.HealthSocket, "PINGY_HEALTH_SOCKET")
	setString(&cfg.Server.JWTSecret, "PINGY_JWT_SECRET")
	setString(&cfg.Server.LogLevel, "PINGY_LOG_LEVEL")
	if v := strings.TrimSpace(os.Getenv("PINGY_ALLOWED_ORIGINS")); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	setString(&cfg.Storage.DataDir, "PINGY_DATA_DIR")
	setString(&cfg.Push.WebPush.VAPIDPublicKey, "PINGY_VAPID_PUBLIC_KEY")
	setString(&cfg.Push.WebPush.VAPIDPrivateKey, "PINGY_VAPID_PRIVATE_KEY")
	setString(&cfg.Push.WebPush.Subject, "PINGY_VAPID_SUBJECT")
	setString(&cfg.Push.APNs.KeyPath, "PINGY_APNS_KEY_PATH")
	setString(&cfg.Push.APNs.KeyID, "PINGY_APNS_KEY_ID")
	setString(&cfg.Push.APNs.TeamID, "PINGY_APNS_TEAM_ID")
	setString(&cfg.Push.APNs.BundleID, "PINGY_APNS_BUNDLE_ID")
	if v := strings.TrimSpace(os.Getenv("PINGY_APNS_PRODUCTION")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Push.APNs.Production = b
		}
	}
}

// SocketPath returns the effective gRPC health socket path.
func (c *Config) SocketPath() string {
	if c.Server.HealthSocket != "" {
		return c.Server.HealthSocket
	}
	return SocketPath(c.Storage.DataDir)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
