package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "LANRELAY"

type RelayConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxFrameSize int           `mapstructure:"max_frame_size"`
	SlowPeer     string        `mapstructure:"slow_peer"`
}

type FilesConfig struct {
	StrictCoverage bool   `mapstructure:"strict_coverage"`
	SaveDir        string `mapstructure:"save_dir"`
}

type MediaConfig struct {
	QoS       bool `mapstructure:"qos"`
	VideoDSCP int  `mapstructure:"video_dscp"`
	AudioDSCP int  `mapstructure:"audio_dscp"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Mode      string      `mapstructure:"mode"`
	Host      string      `mapstructure:"host"`
	TCPPort   int         `mapstructure:"tcp_port"`
	VideoPort int         `mapstructure:"video_port"`
	AudioPort int         `mapstructure:"audio_port"`
	HTTPPort  int         `mapstructure:"http_port"`
	Relay     RelayConfig `mapstructure:"relay"`
	Files     FilesConfig `mapstructure:"files"`
	Media     MediaConfig `mapstructure:"media"`
	Log       LogConfig   `mapstructure:"log"`
}

func (c *Config) ControlAddr() string { return hostPort(c.Host, c.TCPPort) }
func (c *Config) VideoAddr() string   { return hostPort(c.Host, c.VideoPort) }
func (c *Config) AudioAddr() string   { return hostPort(c.Host, c.AudioPort) }
func (c *Config) HTTPAddr() string    { return hostPort(c.Host, c.HTTPPort) }

func hostPort(host string, port int) string {
	if strings.Contains(host, ":") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("tcp_port", 5000)
	v.SetDefault("video_port", 5001)
	v.SetDefault("audio_port", 5002)
	v.SetDefault("http_port", 8080)
	v.SetDefault("relay.queue_size", 256)
	v.SetDefault("relay.write_timeout", "5s")
	v.SetDefault("relay.max_frame_size", 16<<20)
	v.SetDefault("relay.slow_peer", "drop")
	v.SetDefault("files.strict_coverage", false)
	v.SetDefault("files.save_dir", "")
	v.SetDefault("media.qos", true)
	v.SetDefault("media.video_dscp", 34)
	v.SetDefault("media.audio_dscp", 46)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// ServerFlags declares the command line of lanrelay-server.
func ServerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a yaml config file")
	fs.String("host", "0.0.0.0", "address to bind all listeners to")
	fs.Int("tcp-port", 5000, "TCP control port")
	fs.Int("video-port", 5001, "UDP video port")
	fs.Int("audio-port", 5002, "UDP audio port")
	fs.Int("http-port", 8080, "HTTP status port (0 disables)")
	fs.String("slow-peer", "drop", "what to do with a recipient whose queue is full: drop or kick")
	fs.String("save-dir", "", "directory to store files completed at the relay")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", "console", "log format: console or json")
}

var serverFlagKeys = map[string]string{
	"host":       "host",
	"tcp-port":   "tcp_port",
	"video-port": "video_port",
	"audio-port": "audio_port",
	"http-port":  "http_port",
	"slow-peer":  "relay.slow_peer",
	"save-dir":   "files.save_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// Load resolves the server config: defaults, then the yaml file, then
// LANRELAY_* environment variables, then flags in args.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("lanrelay-server", pflag.ContinueOnError)
	ServerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setServerDefaults(v)
	if err := readFile(v, fs); err != nil {
		return nil, err
	}
	bindEnv(v)
	if err := bindFlags(v, fs, serverFlagKeys); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("host", cfg.Host).Int("tcp_port", cfg.TCPPort).Int("video_port", cfg.VideoPort).Int("audio_port", cfg.AudioPort).Int("http_port", cfg.HTTPPort).Msg("config loaded")
	return &cfg, nil
}

func (c *Config) validate() error {
	for name, p := range map[string]int{"tcp_port": c.TCPPort, "video_port": c.VideoPort, "audio_port": c.AudioPort} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%s %d out of range", name, p)
		}
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	}
	if c.Relay.QueueSize <= 0 {
		return errors.New("relay.queue_size must be positive")
	}
	if c.Relay.MaxFrameSize <= 0 {
		return errors.New("relay.max_frame_size must be positive")
	}
	return nil
}

// readFile loads --config if given, else config/config.$CONFIG_ENV.yaml when
// it exists.
func readFile(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetConfigType("yaml")

	fileName, _ := fs.GetString("config")
	explicit := fileName != ""
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		if explicit {
			return fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
		return nil
	}
	log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config file")
	return nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		// only explicit flags override file and env
		if !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}
