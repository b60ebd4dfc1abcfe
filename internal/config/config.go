// Package config loads the server's YAML configuration document and
// compiles its rewrite rule source into a rewrite.CompiledRules.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"httpd/internal/rewrite"
)

const (
	defaultListenAddress              = "0.0.0.1:8484"
	defaultMetricsServerListenAddress = "0.0.0.1:8485"
	defaultDocumentRoot               = "./public"
	defaultCacheTTL                   = 86400
	defaultCacheCleanupInterval       = 3600
	defaultRuleSourcePath             = "./.htaccess"
	defaultEngineOnDefault            = true
	defaultGeoIPTimeoutSeconds        = 2
)

// CacheConfig configures the geoip lookup result cache (see
// internal/geoip), reusing the teacher's ttl/cleanup-interval shape.
type CacheConfig struct {
	TTL             int64 `yaml:"ttl"`
	CleanupInterval int   `yaml:"cleanup_interval"`
}

// AccessLogConfig configures the SQL-backed connection log sink.
// A blank DSN leaves access logging disabled (internal/accesslog.NoopSink).
type AccessLogConfig struct {
	DriverDSN string `yaml:"driver_dsn"`
	Table     string `yaml:"table"`
}

// GeoIPConfig configures the sender-country lookup collaborator.
type GeoIPConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AppConfig is the root configuration document. RuleSourcePath points at
// the mod_rewrite-style document parsed by internal/rewrite; Rules is the
// compiled result, published behind a lock so the reloader (internal/reload)
// can swap it in without readers observing a torn set.
type AppConfig struct {
	lock sync.RWMutex

	ListenAddress              string `yaml:"listen_address"`
	MetricsServerListenAddress string `yaml:"metrics_server_listen_address"`
	DocumentRoot                string `yaml:"document_root"`
	DirectoryListing            bool   `yaml:"directory_listing"`
	ServerIdentity              string `yaml:"server_identity"`

	RuleSourcePath  string `yaml:"rule_source_path"`
	EngineOnDefault bool   `yaml:"engine_on_default"`

	Cache     CacheConfig     `yaml:"cache"`
	AccessLog AccessLogConfig `yaml:"access_log"`
	GeoIP     GeoIPConfig     `yaml:"geoip"`

	rules *rewrite.CompiledRules
}

// InvalidConfigError wraps a failure while loading or compiling the
// configuration document.
type InvalidConfigError struct {
	Path string
	Err  error
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %v", e.Path, e.Err)
}

func (e *InvalidConfigError) Unwrap() error { return e.Err }

// Rules returns the currently published compiled rule set. Safe for
// concurrent use with Swap.
func (c *AppConfig) Rules() *rewrite.CompiledRules {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.rules
}

// SetRules atomically publishes a freshly compiled rule set, for use by
// the reloader after a successful re-parse.
func (c *AppConfig) SetRules(rules *rewrite.CompiledRules) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.rules = rules
}

// RuleSourcePathValue and EngineOnDefaultValue satisfy internal/reload's
// RuleSource interface.
func (c *AppConfig) RuleSourcePathValue() string { return c.RuleSourcePath }
func (c *AppConfig) EngineOnDefaultValue() bool  { return c.EngineOnDefault }

// Load reads path, unmarshals it over a defaults-populated AppConfig, and
// compiles its rule source. A bad rule-source document does not reject the
// whole load: parse errors are logged and the compiled rules are whatever
// parsed successfully (see rewrite.Parse's all-errors-collected contract).
func Load(l *slog.Logger, path string) (*AppConfig, error) {
	c := &AppConfig{
		ListenAddress:              defaultListenAddress,
		MetricsServerListenAddress: defaultMetricsServerListenAddress,
		DocumentRoot:               defaultDocumentRoot,
		RuleSourcePath:             defaultRuleSourcePath,
		EngineOnDefault:            defaultEngineOnDefault,
		Cache: CacheConfig{
			TTL:             defaultCacheTTL,
			CleanupInterval: defaultCacheCleanupInterval,
		},
		GeoIP: GeoIPConfig{
			TimeoutSeconds: defaultGeoIPTimeoutSeconds,
		},
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &InvalidConfigError{Path: path, Err: err}
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, &InvalidConfigError{Path: path, Err: err}
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, &InvalidConfigError{Path: path, Err: err}
	}

	rules, parseErrs := compileRuleSource(l, c.RuleSourcePath, c.EngineOnDefault)
	for _, pe := range parseErrs {
		l.WithGroup("config").Warn("rule source parse error", "err", pe.Error())
	}
	c.rules = rules

	return c, nil
}

func compileRuleSource(l *slog.Logger, path string, engineOnDefault bool) (*rewrite.CompiledRules, []error) {
	logger := l.WithGroup("config")

	buf, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("could not read rule source, starting with no rules", "path", path, "err", err)
		return &rewrite.CompiledRules{}, nil
	}

	return rewrite.Parse(string(buf), rewrite.ParseOptions{EngineOnDefault: engineOnDefault})
}
