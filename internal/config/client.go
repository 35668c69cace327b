package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ClientConfig struct {
	Server      string    `mapstructure:"server"`
	Username    string    `mapstructure:"username"`
	DownloadDir string    `mapstructure:"download_dir"`
	ChunkSize   int       `mapstructure:"chunk_size"`
	VideoPort   int       `mapstructure:"video_port"`
	AudioPort   int       `mapstructure:"audio_port"`
	Log         LogConfig `mapstructure:"log"`
}

var clientFlagKeys = map[string]string{
	"server":       "server",
	"username":     "username",
	"download-dir": "download_dir",
	"chunk-size":   "chunk_size",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("server", "127.0.0.1:5000")
	v.SetDefault("username", "")
	v.SetDefault("download_dir", "downloads")
	v.SetDefault("chunk_size", 8192)
	v.SetDefault("video_port", 5001)
	v.SetDefault("audio_port", 5002)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
}

// LoadClient resolves the config of lanrelay-client the same way Load does.
func LoadClient(args []string) (*ClientConfig, error) {
	fs := pflag.NewFlagSet("lanrelay-client", pflag.ContinueOnError)
	fs.String("config", "", "path to a yaml config file")
	fs.String("server", "127.0.0.1:5000", "relay control address host:port")
	fs.StringP("username", "u", "", "name to register with")
	fs.String("download-dir", "downloads", "where received files are saved")
	fs.Int("chunk-size", 8192, "file chunk size in bytes")
	fs.String("log-level", "warn", "log level")
	fs.String("log-format", "console", "log format: console or json")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setClientDefaults(v)
	if err := readFile(v, fs); err != nil {
		return nil, err
	}
	bindEnv(v)
	if err := bindFlags(v, fs, clientFlagKeys); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Username == "" && fs.NArg() > 0 {
		cfg.Username = fs.Arg(0)
	}
	if cfg.Username == "" {
		return nil, errors.New("username is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, errors.New("chunk_size must be positive")
	}
	return &cfg, nil
}
