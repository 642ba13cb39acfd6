package main

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/speak/internal/cache"
	"github.com/dgnsrekt/speak/internal/ttypes"
	"github.com/dgnsrekt/speak/internal/voicecache"
)

// settings is the decoded speak.yml, after env and flag overrides.
type settings struct {
	Provider string        `mapstructure:"provider"`
	Voice    string        `mapstructure:"voice"`
	Player   string        `mapstructure:"player"`
	Debug    bool          `mapstructure:"debug"`
	Cache    cacheSettings `mapstructure:"cache"`
	OpenAI   struct {
		APIKey string `mapstructure:"api_key"`
		Model  string `mapstructure:"model"`
	} `mapstructure:"openai"`
	GTTS struct {
		Language string `mapstructure:"language"`
	} `mapstructure:"gtts"`
	Piper struct {
		Binary    string `mapstructure:"binary"`
		Model     string `mapstructure:"model"`
		VoicesDir string `mapstructure:"voices_dir"`
	} `mapstructure:"piper"`
}

type cacheSettings struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	Watch          bool          `mapstructure:"watch"`
	ClipDir        string        `mapstructure:"clip_dir"`
	ClipMemoryMB   int           `mapstructure:"clip_memory_mb"`
	ClipDiskMB     int           `mapstructure:"clip_disk_mb"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", string(ttypes.ProviderPiper))
	v.SetDefault("cache.host", voicecache.DefaultHost)
	v.SetDefault("cache.port", voicecache.DefaultPort)
	v.SetDefault("cache.startup_timeout", voicecache.DefaultStartupTimeout)
	v.SetDefault("cache.request_timeout", voicecache.DefaultRequestTimeout)
	v.SetDefault("cache.idle_timeout", time.Duration(0))
	v.SetDefault("cache.watch", true)
	v.SetDefault("cache.clip_memory_mb", 64)
	v.SetDefault("cache.clip_disk_mb", 512)
	v.SetDefault("openai.model", "tts-1")
	v.SetDefault("gtts.language", "en")
	v.SetDefault("piper.binary", "piper")

	_ = v.BindEnv("openai.api_key", "SPEAK_OPENAI_API_KEY", "OPENAI_API_KEY")
}

func loadSettings(v *viper.Viper) (settings, error) {
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if _, err := ttypes.ParseProviderName(s.Provider); err != nil {
		return s, err
	}
	if s.Cache.Port <= 0 || s.Cache.Port > 65535 {
		return s, ttypes.InvalidInputError("config", fmt.Sprintf("cache.port must be between 1 and 65535, got %d", s.Cache.Port))
	}
	if s.Cache.IdleTimeout < 0 {
		return s, ttypes.InvalidInputError("config", "cache.idle_timeout must not be negative")
	}
	return s, nil
}

func (s settings) provider() ttypes.ProviderName {
	name, _ := ttypes.ParseProviderName(s.Provider)
	return name
}

func (s settings) cacheAddr() string {
	return net.JoinHostPort(s.Cache.Host, strconv.Itoa(s.Cache.Port))
}

func (s settings) clipConfig() (cache.Config, error) {
	dir := s.Cache.ClipDir
	if dir == "" {
		base, err := gap.NewScope(gap.User, "speak").CacheDir()
		if err != nil {
			return cache.Config{}, fmt.Errorf("locating cache directory: %w", err)
		}
		dir = filepath.Join(base, "clips")
	}
	cfg := cache.DefaultConfig(dir)
	if s.Cache.ClipMemoryMB > 0 {
		cfg.MemoryCapacity = int64(s.Cache.ClipMemoryMB) << 20
	}
	if s.Cache.ClipDiskMB > 0 {
		cfg.DiskCapacity = int64(s.Cache.ClipDiskMB) << 20
	}
	return cfg, nil
}
