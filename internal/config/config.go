package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Room        RoomConfig     `mapstructure:"room"`
	ICEServers  []string       `mapstructure:"ice_servers"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Speaking    SpeakingConfig `mapstructure:"speaking"`
	Layout      LayoutConfig   `mapstructure:"layout"`
	ControlRate RateConfig     `mapstructure:"control_rate"`
	Render      RenderConfig   `mapstructure:"render"`
}

// RoomConfig points the engine at the call room it joins as a media client.
type RoomConfig struct {
	URL   string `mapstructure:"url"`
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Media bool   `mapstructure:"media"`
}

type EngineConfig struct {
	Tick           time.Duration `mapstructure:"tick"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Strict         bool          `mapstructure:"strict"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// SpeakingConfig levels are dBov, 0 loudest.
type SpeakingConfig struct {
	EnterLevel   float64       `mapstructure:"enter_level"`
	ExitLevel    float64       `mapstructure:"exit_level"`
	MinSpeaking  time.Duration `mapstructure:"min_speaking"`
	MinSilence   time.Duration `mapstructure:"min_silence"`
	MaxGap       time.Duration `mapstructure:"max_gap"`
	PromoteAfter time.Duration `mapstructure:"promote_after"`
}

type LayoutConfig struct {
	StripSlots     int `mapstructure:"strip_slots"`
	ColumnSlots    int `mapstructure:"column_slots"`
	ThumbnailSlots int `mapstructure:"thumbnail_slots"`
}

// RateConfig limits control intents per viewer.
type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type RenderConfig struct {
	VideoMime string `mapstructure:"video_mime"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")

	v.SetDefault("room.url", "")
	v.SetDefault("room.id", "")
	v.SetDefault("room.name", "studycall")
	v.SetDefault("room.media", true)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("engine.tick", "100ms")
	v.SetDefault("engine.command_timeout", "5s")
	v.SetDefault("engine.strict", false)
	v.SetDefault("engine.queue_size", 256)

	v.SetDefault("speaking.enter_level", -50.0)
	v.SetDefault("speaking.exit_level", -60.0)
	v.SetDefault("speaking.min_speaking", "300ms")
	v.SetDefault("speaking.min_silence", "300ms")
	v.SetDefault("speaking.max_gap", "150ms")
	v.SetDefault("speaking.promote_after", "1500ms")

	v.SetDefault("layout.strip_slots", 5)
	v.SetDefault("layout.column_slots", 3)
	v.SetDefault("layout.thumbnail_slots", 5)

	v.SetDefault("control_rate.limit", 5)
	v.SetDefault("control_rate.interval", "1s")

	v.SetDefault("render.video_mime", "video/VP8")
}

// Load reads config/config.<CONFIG_ENV>.yaml, dev by default.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName, falling back to defaults when it does not exist.
// STUDYCALL_* environment variables override file values, e.g.
// STUDYCALL_ENGINE_STRICT=true.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("STUDYCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("room", cfg.Room.URL).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	case c.Speaking.EnterLevel <= c.Speaking.ExitLevel:
		return fmt.Errorf("%w: speaking.enter_level %.1f must be above exit_level %.1f",
			ErrInvalid, c.Speaking.EnterLevel, c.Speaking.ExitLevel)
	case c.Speaking.MinSpeaking < 0 || c.Speaking.MinSilence < 0 || c.Speaking.MaxGap < 0 ||
		c.Speaking.PromoteAfter < 0:
		return fmt.Errorf("%w: negative speaking duration", ErrInvalid)
	case c.Layout.StripSlots <= 0 || c.Layout.ColumnSlots <= 0 || c.Layout.ThumbnailSlots <= 0:
		return fmt.Errorf("%w: layout slot counts must be positive", ErrInvalid)
	case c.Engine.Tick <= 0 || c.Engine.CommandTimeout <= 0:
		return fmt.Errorf("%w: engine durations must be positive", ErrInvalid)
	case c.ControlRate.Limit <= 0 || c.ControlRate.Interval <= 0:
		return fmt.Errorf("%w: control_rate must be positive", ErrInvalid)
	}
	return nil
}
