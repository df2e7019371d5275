package telegift

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type Config struct {
	Log      LogConfig      `toml:"log"`
	DB       DBConfig       `toml:"db"`
	Telegram TelegramConfig `toml:"telegram"`
	Payment  PaymentConfig  `toml:"payment"`
	Server   ServerConfig   `toml:"server"`
	Spaces   SpacesConfig   `toml:"spaces"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"` // seconds
}

type TelegramConfig struct {
	Token    string `toml:"token"`
	Username string `toml:"username"` // bot username, for t.me deep links
	AppName  string `toml:"app_name"` // mini app short name
}

type PaymentConfig struct {
	// Crypto Pay API base, e.g. https://pay.crypt.bot/api. Empty uses the
	// production endpoint.
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// Public base URL where gift art is served; inline offer thumbnails
	// point at <assets_url>/assets/gift/<image>.png.
	AssetsURL string `toml:"assets_url"`
}

type SpacesConfig struct {
	Key        string `toml:"key"`
	Secret     string `toml:"secret"`
	Region     string `toml:"region"`
	Bucket     string `toml:"bucket"`
	AvatarRoot string `toml:"avatar_root"`
}
