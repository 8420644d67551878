package pmworker

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
	} `yaml:"server"`

	Product struct {
		Name        string `yaml:"name"`
		CachePrefix string `yaml:"cachePrefix"`
		Icon        string `yaml:"icon"`
		Badge       string `yaml:"badge"`
	} `yaml:"product"`

	Cache struct {
		StaticVersion    string   `yaml:"staticVersion"`
		DynamicVersion   string   `yaml:"dynamicVersion"`
		Manifest         []string `yaml:"manifest"`
		APIPrefix        string   `yaml:"apiPrefix"`
		StaticExtensions []string `yaml:"staticExtensions"`
		CacheableAPI     []string `yaml:"cacheableApi"`
		CriticalPaths    []string `yaml:"criticalPaths"`
	} `yaml:"cache"`

	Storage struct {
		Backend     string `yaml:"backend"` // leveldb | memory
		Dir         string `yaml:"dir"`
		WriteBuffer string `yaml:"writeBuffer"`
	} `yaml:"storage"`

	Queue struct {
		Backend string `yaml:"backend"` // leveldb | sqlite | redis | memory
		DSN     string `yaml:"dsn"`
	} `yaml:"queue"`

	Sync struct {
		Tag         string `yaml:"tag"`
		MaxAttempts int    `yaml:"maxAttempts"`
	} `yaml:"sync"`

	Analytics struct {
		DismissPath string `yaml:"dismissPath"`
	} `yaml:"analytics"`

	Prefetch struct {
		Sitemaps     []string `yaml:"sitemaps"`
		InitialDelay string   `yaml:"initialDelay"`
	} `yaml:"prefetch"`

	Logging struct {
		LogStatsEvery string `yaml:"logStatsEvery"`
	} `yaml:"logging"`

	// compiled
	cacheable        []*regexp.Regexp
	extensions       map[string]struct{}
	writeBufferBytes int64
	initialDelayDur  time.Duration
	logStatsEveryDur time.Duration
}

var (
	DefaultManifest = []string{
		"/",
		"/dashboard",
		"/projects",
		"/tasks",
		"/static/js/bundle.js",
		"/static/css/main.css",
		"/manifest.json",
		"/icons/icon-192x192.png",
		"/icons/icon-512x512.png",
	}

	DefaultStaticExtensions = []string{
		".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".woff", ".woff2",
	}

	DefaultCacheableAPI = []string{
		`^/api/v1/organizations/[^/]+/analytics`,
		`^/api/v1/organizations/[^/]+/dashboard`,
		`^/api/v1/organizations/[^/]+/projects`,
		`^/api/v1/projects/[^/]+$`,
		`^/api/v1/users/me$`,
	}

	DefaultCriticalPaths = []string{"analytics", "dashboard", "projects"}
)

const (
	DefaultProductName  = "Project Hub"
	DefaultCachePrefix  = "projecthub"
	DefaultVersion      = "v1.0.0"
	DefaultIcon         = "/icons/icon-192x192.png"
	DefaultBadge        = "/icons/badge-72x72.png"
	DefaultSyncTag      = "sync-offline-actions"
	DefaultDismissPath  = "/api/analytics/notification-dismissed"
	DefaultAPIPrefix    = "/api/"
	DefaultStorageDir   = "./data"
	DefaultWriteBuffer  = "4mb"
	DefaultQueueBackend = "leveldb"
)

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Server.Origin == "" {
		return Config{}, fmt.Errorf("server.origin is required")
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns a compiled config for origin with every default applied.
func DefaultConfig(origin string) Config {
	var cfg Config
	cfg.Server.Origin = origin
	if err := cfg.compile(); err != nil {
		// defaults are known to compile
		panic(err)
	}
	return cfg
}

func (c *Config) compile() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	c.Server.Origin = strings.TrimRight(c.Server.Origin, "/")

	if c.Product.Name == "" {
		c.Product.Name = DefaultProductName
	}
	if c.Product.CachePrefix == "" {
		c.Product.CachePrefix = DefaultCachePrefix
	}
	if c.Product.Icon == "" {
		c.Product.Icon = DefaultIcon
	}
	if c.Product.Badge == "" {
		c.Product.Badge = DefaultBadge
	}

	if c.Cache.StaticVersion == "" {
		c.Cache.StaticVersion = DefaultVersion
	}
	if c.Cache.DynamicVersion == "" {
		c.Cache.DynamicVersion = DefaultVersion
	}
	if c.Cache.Manifest == nil {
		c.Cache.Manifest = append([]string(nil), DefaultManifest...)
	}
	if c.Cache.APIPrefix == "" {
		c.Cache.APIPrefix = DefaultAPIPrefix
	}
	if len(c.Cache.StaticExtensions) == 0 {
		c.Cache.StaticExtensions = append([]string(nil), DefaultStaticExtensions...)
	}
	if c.Cache.CacheableAPI == nil {
		c.Cache.CacheableAPI = append([]string(nil), DefaultCacheableAPI...)
	}
	if c.Cache.CriticalPaths == nil {
		c.Cache.CriticalPaths = append([]string(nil), DefaultCriticalPaths...)
	}

	for i, p := range c.Cache.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("cache.manifest[%d]: path %q must start with /", i, p)
		}
	}

	c.cacheable = make([]*regexp.Regexp, 0, len(c.Cache.CacheableAPI))
	for i, expr := range c.Cache.CacheableAPI {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("cache.cacheableApi[%d]: %w", i, err)
		}
		c.cacheable = append(c.cacheable, re)
	}

	c.extensions = make(map[string]struct{}, len(c.Cache.StaticExtensions))
	for _, ext := range c.Cache.StaticExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extensions[ext] = struct{}{}
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "leveldb"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultStorageDir
	}
	if c.Storage.WriteBuffer == "" {
		c.Storage.WriteBuffer = DefaultWriteBuffer
	}
	wb, err := parseBytes(c.Storage.WriteBuffer)
	if err != nil {
		return fmt.Errorf("storage.writeBuffer: %w", err)
	}
	c.writeBufferBytes = wb

	if c.Queue.Backend == "" {
		c.Queue.Backend = DefaultQueueBackend
	}
	if c.Sync.Tag == "" {
		c.Sync.Tag = DefaultSyncTag
	}
	if c.Sync.MaxAttempts < 0 {
		return fmt.Errorf("sync.maxAttempts: must not be negative")
	}
	if c.Analytics.DismissPath == "" {
		c.Analytics.DismissPath = DefaultDismissPath
	}

	if c.Prefetch.InitialDelay != "" {
		d, err := time.ParseDuration(c.Prefetch.InitialDelay)
		if err != nil {
			return fmt.Errorf("prefetch.initialDelay: %w", err)
		}
		c.initialDelayDur = d
	}
	if c.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(c.Logging.LogStatsEvery)
		if err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		c.logStatsEveryDur = d
	}
	return nil
}

func (c Config) StaticCacheName() string {
	return c.Product.CachePrefix + "-static-" + c.Cache.StaticVersion
}

func (c Config) DynamicCacheName() string {
	return c.Product.CachePrefix + "-dynamic-" + c.Cache.DynamicVersion
}

// Version is the identifier reported to GET_VERSION.
func (c Config) Version() string {
	if c.Cache.StaticVersion == c.Cache.DynamicVersion {
		return c.Product.CachePrefix + "-" + c.Cache.StaticVersion
	}
	return c.Product.CachePrefix + "-" + c.Cache.StaticVersion + "+" + c.Cache.DynamicVersion
}

func (c Config) WriteBufferBytes() int64      { return c.writeBufferBytes }
func (c Config) PrefetchDelay() time.Duration { return c.initialDelayDur }
func (c Config) LogStatsEvery() time.Duration { return c.logStatsEveryDur }

func (c Config) isCacheableAPI(path string) bool {
	for _, re := range c.cacheable {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (c Config) isCriticalPath(path string) bool {
	for _, sub := range c.Cache.CriticalPaths {
		if sub != "" && strings.Contains(path, sub) {
			return true
		}
	}
	return false
}
