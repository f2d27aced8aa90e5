// Package config defines the shape of the service's configuration and a
// thin file/env loader over it. The full schema validator and CLI flag
// layer are treated as external collaborators: this package only owns
// the struct, sane defaults, and the structural invariants the core
// depends on at runtime (positive timeouts, workLimit >= 1, scale
// bounds). Per-request overrides on top of this are applied by the
// gateway, not here.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object, organised into sections
// mirroring the service's major components.
type Config struct {
	Highcharts   HighchartsConfig   `mapstructure:"highcharts"`
	Export       ExportConfig       `mapstructure:"export"`
	CustomLogic  CustomLogicConfig  `mapstructure:"customLogic"`
	Server       ServerConfig       `mapstructure:"server"`
	Pool         PoolConfig         `mapstructure:"pool"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Other        OtherConfig        `mapstructure:"other"`
	Debug        DebugConfig        `mapstructure:"debug"`
}

// HighchartsConfig controls the asset cache's fetch/version behaviour.
type HighchartsConfig struct {
	Version         string   `mapstructure:"version"`
	CDNURL          string   `mapstructure:"cdnUrl"`
	ForceFetch      bool     `mapstructure:"forceFetch"`
	CachePath       string   `mapstructure:"cachePath"`
	CoreScripts     []string `mapstructure:"coreScripts"`
	ModuleScripts   []string `mapstructure:"moduleScripts"`
	MapScripts      []string `mapstructure:"mapScripts"`
	IndicatorScripts []string `mapstructure:"indicatorScripts"`
	CustomScripts   []string `mapstructure:"customScripts"`
}

// ExportConfig controls the render pipeline's defaults.
type ExportConfig struct {
	Type                 string        `mapstructure:"type"`
	Constr               string        `mapstructure:"constr"`
	DefaultHeight        int           `mapstructure:"defaultHeight"`
	DefaultWidth         int           `mapstructure:"defaultWidth"`
	DefaultScale         float64       `mapstructure:"defaultScale"`
	RasterizationTimeout time.Duration `mapstructure:"rasterizationTimeout"`
}

// CustomLogicConfig gates per-request code/resource injection.
type CustomLogicConfig struct {
	AllowCodeExecution bool   `mapstructure:"allowCodeExecution"`
	AllowFileResources bool   `mapstructure:"allowFileResources"`
	CustomCode         string `mapstructure:"customCode"`
	Callback           string `mapstructure:"callback"`
	LoadConfig         string `mapstructure:"loadConfig"`
	CreateConfig       string `mapstructure:"createConfig"`
}

// ServerConfig controls the request gateway's HTTP listener.
type ServerConfig struct {
	Enable bool   `mapstructure:"enable"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`

	SSL         SSLConfig         `mapstructure:"ssl"`
	RateLimiting RateLimitingConfig `mapstructure:"rateLimiting"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`

	MaxRequestSize int64 `mapstructure:"maxRequestSize"`
	AdminToken     string `mapstructure:"adminToken"`
}

type SSLConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Force    bool   `mapstructure:"force"`
	Port     int    `mapstructure:"port"`
	CertPath string `mapstructure:"certPath"`
}

type RateLimitingConfig struct {
	Enable      bool          `mapstructure:"enable"`
	MaxRequests int           `mapstructure:"maxRequests"`
	Window      time.Duration `mapstructure:"window"`
	Delay       time.Duration `mapstructure:"delay"`
	TrustProxy  bool          `mapstructure:"trustProxy"`
	SkipKey     string        `mapstructure:"skipKey"`
	SkipToken   string        `mapstructure:"skipToken"`
}

type ProxyConfig struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PoolConfig controls the worker pool's lifecycle policy: sizing,
// timeouts, and retire/rotation behaviour.
type PoolConfig struct {
	MinWorkers          int           `mapstructure:"minWorkers"`
	MaxWorkers          int           `mapstructure:"maxWorkers"`
	WorkLimit           int           `mapstructure:"workLimit"`
	AcquireTimeout      time.Duration `mapstructure:"acquireTimeout"`
	CreateTimeout       time.Duration `mapstructure:"createTimeout"`
	DestroyTimeout      time.Duration `mapstructure:"destroyTimeout"`
	IdleTimeout         time.Duration `mapstructure:"idleTimeout"`
	CreateRetryInterval time.Duration `mapstructure:"createRetryInterval"`
	ReaperInterval      time.Duration `mapstructure:"reaperInterval"`
	ResourcesInterval   time.Duration `mapstructure:"resourcesInterval"`
	Benchmarking        bool          `mapstructure:"benchmarking"`

	// HardResetOnRotation names a "hard" reset (navigate to about:blank +
	// reinstall template) at rotation time as opposed to every job. It is
	// loaded from config but nothing reads it: the pool never resets a
	// page, hard or soft.
	HardResetOnRotation bool `mapstructure:"hardResetOnRotation"`
}

// LoggingConfig controls internal/obslog.
type LoggingConfig struct {
	Level    int    `mapstructure:"level"` // 0-5
	File     string `mapstructure:"file"`
	Dest     string `mapstructure:"dest"` // stdout|stderr|file
	ToConsole bool  `mapstructure:"toConsole"`
	ToFile   bool   `mapstructure:"toFile"`
}

type OtherConfig struct {
	HardResetPage        bool `mapstructure:"hardResetPage"`
	BrowserShellMode     bool `mapstructure:"browserShellMode"`
	ListenToProcessExits bool `mapstructure:"listenToProcessExits"`
}

type DebugConfig struct {
	Headless       bool `mapstructure:"headless"`
	DevTools       bool `mapstructure:"devtools"`
	ListenToConsole bool `mapstructure:"listenToConsole"`
	SlowMo         int  `mapstructure:"slowMo"`
	DebuggingPort  int  `mapstructure:"debuggingPort"`
}

// Load reads configuration from an optional file and the environment;
// CLI flags and per-request overrides are layered on top by callers
// outside this package.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("highcharts.version", "latest")
	v.SetDefault("highcharts.cdnUrl", "https://code.highcharts.com")
	v.SetDefault("highcharts.cachePath", "./cache")
	v.SetDefault("highcharts.coreScripts", []string{"highcharts", "highcharts-more", "highcharts-3d"})
	v.SetDefault("highcharts.moduleScripts", []string{"stock", "gantt", "exporting", "export-data", "accessibility"})
	v.SetDefault("highcharts.mapScripts", []string{"map"})
	v.SetDefault("highcharts.indicatorScripts", []string{"indicators-all"})

	v.SetDefault("export.type", "png")
	v.SetDefault("export.constr", "chart")
	v.SetDefault("export.defaultHeight", 400)
	v.SetDefault("export.defaultWidth", 600)
	v.SetDefault("export.defaultScale", 1.0)
	v.SetDefault("export.rasterizationTimeout", 1500*time.Millisecond)

	v.SetDefault("customLogic.allowCodeExecution", false)
	v.SetDefault("customLogic.allowFileResources", false)

	v.SetDefault("server.enable", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7801)
	v.SetDefault("server.maxRequestSize", 50*1024*1024)
	v.SetDefault("server.rateLimiting.enable", false)
	v.SetDefault("server.rateLimiting.maxRequests", 30)
	v.SetDefault("server.rateLimiting.window", time.Minute)

	v.SetDefault("pool.minWorkers", 2)
	v.SetDefault("pool.maxWorkers", 8)
	v.SetDefault("pool.workLimit", 40)
	v.SetDefault("pool.acquireTimeout", 15*time.Second)
	v.SetDefault("pool.createTimeout", 10*time.Second)
	v.SetDefault("pool.destroyTimeout", 10*time.Second)
	v.SetDefault("pool.idleTimeout", 30*time.Second)
	v.SetDefault("pool.createRetryInterval", 3*time.Second)
	v.SetDefault("pool.reaperInterval", 5*time.Second)

	v.SetDefault("logging.level", 2)
	v.SetDefault("logging.dest", "stdout")
}

// Validate enforces the structural invariants the core relies on. This is
// deliberately not a full schema validator — only the checks that would
// otherwise cause the pool, pipeline, or gateway to misbehave at runtime.
func (c *Config) Validate() error {
	if c.Pool.WorkLimit < 1 {
		return fmt.Errorf("pool.workLimit must be >= 1")
	}
	if c.Pool.MinWorkers < 0 || c.Pool.MaxWorkers < c.Pool.MinWorkers {
		return fmt.Errorf("pool.maxWorkers must be >= pool.minWorkers")
	}
	if c.Pool.AcquireTimeout <= 0 || c.Pool.CreateTimeout <= 0 || c.Pool.DestroyTimeout <= 0 {
		return fmt.Errorf("pool timeouts must be positive")
	}
	if c.Export.DefaultScale < 0.1 || c.Export.DefaultScale > 5.0 {
		return fmt.Errorf("export.defaultScale must be within [0.1, 5.0]")
	}
	if c.Server.MaxRequestSize <= 0 {
		return fmt.Errorf("server.maxRequestSize must be positive")
	}
	return nil
}
