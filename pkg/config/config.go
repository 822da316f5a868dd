package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "evagent.yaml"

// EnvPrefix prefixes every environment override, e.g. EVAGENT_OUT_DIR.
const EnvPrefix = "evagent"

// Company categories.
const (
	CategoryOEM     = "OEM"
	CategoryBattery = "Battery"
	CategoryHVAC    = "HVAC"
)

var ErrNoCompanies = errors.New("company whitelist is empty")

// Company is one entry of the company whitelist.
type Company struct {
	Name     string `yaml:"name" json:"name"`
	Ticker   string `yaml:"ticker,omitempty" json:"ticker,omitempty"`
	Category string `yaml:"category" json:"category"`
	Domain   string `yaml:"domain,omitempty" json:"domain,omitempty"`
}

type SupervisorConfig struct {
	MaxRetries         *int `yaml:"max_retries,omitempty"`
	SubjectConcurrency int  `yaml:"subject_concurrency,omitempty"`
}

type SearchConfig struct {
	BaseURL        string `yaml:"base_url,omitempty"`
	APIKeyEnv      string `yaml:"api_key_env,omitempty"`
	Depth          string `yaml:"depth,omitempty"`
	MaxResults     int    `yaml:"max_results,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ModelConfig struct {
	// Provider is "openai", "anthropic" or "none".
	Provider       string  `yaml:"provider,omitempty"`
	Name           string  `yaml:"name,omitempty"`
	BaseURL        string  `yaml:"base_url,omitempty"`
	Temperature    float64 `yaml:"temperature,omitempty"`
	MaxTokens      int64   `yaml:"max_tokens,omitempty"`
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"`
}

func (c ModelConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ValueChainConfig struct {
	NearKM      float64 `yaml:"near_km,omitempty"`
	RegionalKM  float64 `yaml:"regional_km,omitempty"`
	OEMFile     string  `yaml:"oem_file,omitempty"`
	BatteryFile string  `yaml:"battery_file,omitempty"`
	HVACFile    string  `yaml:"hvac_file,omitempty"`
}

type StockConfig struct {
	BaseURL        string `yaml:"base_url,omitempty"`
	Range          string `yaml:"range,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

func (c StockConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type HistoryConfig struct {
	// Kind selects the history driver: "sqlite", "minio" or empty for none.
	Kind      string `yaml:"kind,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
	ServiceName  string `yaml:"service_name,omitempty"`
}

type ReportConfig struct {
	Skip bool  `yaml:"skip,omitempty"`
	HTML *bool `yaml:"html,omitempty"`
}

// Config is the whole evagent configuration.
type Config struct {
	Companies  []Company        `yaml:"companies"`
	Subjects   []string         `yaml:"subjects,omitempty"`
	Regions    []string         `yaml:"regions,omitempty"`
	OutDir     string           `yaml:"out_dir,omitempty"`
	DataDir    string           `yaml:"data_dir,omitempty"`
	EnvFile    string           `yaml:"env_file,omitempty"`
	Supervisor SupervisorConfig `yaml:"supervisor,omitempty"`
	Search     SearchConfig     `yaml:"search,omitempty"`
	Model      ModelConfig      `yaml:"model,omitempty"`
	ValueChain ValueChainConfig `yaml:"valuechain,omitempty"`
	Stock      StockConfig      `yaml:"stock,omitempty"`
	History    HistoryConfig    `yaml:"history,omitempty"`
	Metrics    MetricsConfig    `yaml:"metrics,omitempty"`
	Telemetry  TelemetryConfig  `yaml:"telemetry,omitempty"`
	Report     ReportConfig     `yaml:"report,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{Companies: defaultCompanies()}
	c.applyDefaults()
	return c
}

// Load reads the configuration at path. A missing file yields the defaults.
// Environment overrides are applied on top in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	c := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.Companies = defaultCompanies()
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.UnmarshalWithOptions(data, c, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if len(c.Companies) == 0 {
			c.Companies = defaultCompanies()
		}
		c.resolvePaths(filepath.Dir(path))
	}

	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// envOverrides are the settings that can be overridden from the environment.
type envOverrides struct {
	OutDir          string   `envconfig:"OUT_DIR"`
	DataDir         string   `envconfig:"DATA_DIR"`
	Regions         []string `envconfig:"REGIONS"`
	Subjects        []string `envconfig:"SUBJECTS"`
	MaxRetries      *int     `envconfig:"MAX_RETRIES"`
	ModelProvider   string   `envconfig:"MODEL_PROVIDER"`
	Model           string   `envconfig:"MODEL"`
	HistoryKind     string   `envconfig:"HISTORY_KIND"`
	HistoryPath     string   `envconfig:"HISTORY_PATH"`
	HistoryEndpoint string   `envconfig:"HISTORY_ENDPOINT"`
	HistoryBucket   string   `envconfig:"HISTORY_BUCKET"`
	HistoryAccess   string   `envconfig:"HISTORY_ACCESS_KEY"`
	HistorySecret   string   `envconfig:"HISTORY_SECRET_KEY"`
	OTLPEndpoint    string   `envconfig:"OTLP_ENDPOINT"`
	MetricsTextfile string   `envconfig:"METRICS_TEXTFILE"`
}

// ApplyEnv overlays EVAGENT_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&c.OutDir, o.OutDir)
	setString(&c.DataDir, o.DataDir)
	setString(&c.Model.Provider, o.ModelProvider)
	setString(&c.Model.Name, o.Model)
	setString(&c.History.Kind, o.HistoryKind)
	setString(&c.History.Path, o.HistoryPath)
	setString(&c.History.Endpoint, o.HistoryEndpoint)
	setString(&c.History.Bucket, o.HistoryBucket)
	setString(&c.History.AccessKey, o.HistoryAccess)
	setString(&c.History.SecretKey, o.HistorySecret)
	setString(&c.Telemetry.OTLPEndpoint, o.OTLPEndpoint)
	setString(&c.Metrics.Textfile, o.MetricsTextfile)
	if len(o.Regions) > 0 {
		c.Regions = o.Regions
	}
	if len(o.Subjects) > 0 {
		c.Subjects = o.Subjects
	}
	if o.MaxRetries != nil {
		c.Supervisor.MaxRetries = o.MaxRetries
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Regions) == 0 {
		c.Regions = []string{"KR", "CN", "JP", "EU", "US"}
	}
	if c.OutDir == "" {
		c.OutDir = "outputs"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.EnvFile == "" {
		c.EnvFile = ".env"
	}
	if c.Supervisor.MaxRetries == nil {
		n := 2
		c.Supervisor.MaxRetries = &n
	}
	if c.Supervisor.SubjectConcurrency <= 0 {
		c.Supervisor.SubjectConcurrency = 4
	}

	if c.Search.BaseURL == "" {
		c.Search.BaseURL = "https://api.tavily.com"
	}
	if c.Search.APIKeyEnv == "" {
		c.Search.APIKeyEnv = "TAVILY_API_KEY"
	}
	if c.Search.Depth == "" {
		c.Search.Depth = "advanced"
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 5
	}
	if c.Search.TimeoutSeconds <= 0 {
		c.Search.TimeoutSeconds = 30
	}

	if c.Model.Provider == "" {
		c.Model.Provider = "openai"
	}
	if c.Model.Name == "" {
		switch c.Model.Provider {
		case "anthropic":
			c.Model.Name = "claude-sonnet-4-5"
		default:
			c.Model.Name = "gpt-4o-mini"
		}
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = 0.3
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = 2048
	}
	if c.Model.TimeoutSeconds <= 0 {
		c.Model.TimeoutSeconds = 60
	}

	if c.ValueChain.NearKM <= 0 {
		c.ValueChain.NearKM = 66
	}
	if c.ValueChain.RegionalKM <= 0 {
		c.ValueChain.RegionalKM = 140
	}
	if c.ValueChain.OEMFile == "" {
		c.ValueChain.OEMFile = "ev_factories_full_with_status.csv"
	}
	if c.ValueChain.BatteryFile == "" {
		c.ValueChain.BatteryFile = "ev_battery_suppliers_plants_status.csv"
	}
	if c.ValueChain.HVACFile == "" {
		c.ValueChain.HVACFile = "HVAC_Supplier_Plants_FINAL.csv"
	}

	if c.Stock.BaseURL == "" {
		c.Stock.BaseURL = "https://query1.finance.yahoo.com"
	}
	if c.Stock.Range == "" {
		c.Stock.Range = "3mo"
	}
	if c.Stock.TimeoutSeconds <= 0 {
		c.Stock.TimeoutSeconds = 30
	}

	if c.History.Kind == "sqlite" && c.History.Path == "" {
		c.History.Path = filepath.Join(c.OutDir, "history.db")
	}
	if c.History.Prefix == "" {
		c.History.Prefix = "runs/"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "evagent"
	}
	if c.Report.HTML == nil {
		html := true
		c.Report.HTML = &html
	}
}

// resolvePaths makes relative data and env paths relative to the config file.
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.DataDir, &c.EnvFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if len(c.Companies) == 0 {
		return ErrNoCompanies
	}
	seen := make(map[string]bool, len(c.Companies))
	for i, co := range c.Companies {
		if strings.TrimSpace(co.Name) == "" {
			return fmt.Errorf("companies[%d]: name is required", i)
		}
		if seen[co.Name] {
			return fmt.Errorf("companies[%d]: duplicate company %q", i, co.Name)
		}
		seen[co.Name] = true
		if !slices.Contains([]string{CategoryOEM, CategoryBattery, CategoryHVAC}, co.Category) {
			return fmt.Errorf("companies[%d]: unknown category %q", i, co.Category)
		}
	}
	if c.Supervisor.MaxRetries != nil && *c.Supervisor.MaxRetries < 0 {
		return fmt.Errorf("supervisor.max_retries must not be negative")
	}
	switch c.Model.Provider {
	case "openai", "anthropic", "none":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	switch c.History.Kind {
	case "", "none", "sqlite", "minio":
	default:
		return fmt.Errorf("unknown history kind %q", c.History.Kind)
	}
	if c.ValueChain.NearKM > c.ValueChain.RegionalKM {
		return fmt.Errorf("valuechain.near_km (%v) exceeds valuechain.regional_km (%v)", c.ValueChain.NearKM, c.ValueChain.RegionalKM)
	}
	return nil
}

// MaxRetries returns the configured retry cap.
func (c *Config) MaxRetries() int {
	if c.Supervisor.MaxRetries == nil {
		return 2
	}
	return *c.Supervisor.MaxRetries
}

// CompaniesIn returns the whitelisted companies of a category.
func (c *Config) CompaniesIn(category string) []Company {
	var out []Company
	for _, co := range c.Companies {
		if strings.EqualFold(co.Category, category) {
			out = append(out, co)
		}
	}
	return out
}

// OEMNames returns the names of whitelisted OEMs.
func (c *Config) OEMNames() []string {
	var names []string
	for _, co := range c.CompaniesIn(CategoryOEM) {
		names = append(names, co.Name)
	}
	return names
}

// Company looks up a whitelisted company by name, case-insensitively.
func (c *Config) Company(name string) (Company, bool) {
	for _, co := range c.Companies {
		if strings.EqualFold(co.Name, name) {
			return co, true
		}
	}
	return Company{}, false
}

// DefaultSubjects are the subjects analysed when none are requested:
// the configured subjects, else every whitelisted OEM.
func (c *Config) DefaultSubjects() []string {
	if len(c.Subjects) > 0 {
		return c.Subjects
	}
	return c.OEMNames()
}

func defaultCompanies() []Company {
	return []Company{
		{Name: "Tesla", Ticker: "TSLA", Category: CategoryOEM, Domain: "tesla.com"},
		{Name: "Rivian", Ticker: "RIVN", Category: CategoryOEM, Domain: "rivian.com"},
		{Name: "General Motors", Ticker: "GM", Category: CategoryOEM, Domain: "gm.com"},
		{Name: "Ford", Ticker: "F", Category: CategoryOEM, Domain: "ford.com"},
		{Name: "BYD", Ticker: "BYDDY", Category: CategoryOEM, Domain: "byd.com"},
		{Name: "Li Auto", Ticker: "LI", Category: CategoryOEM, Domain: "lixiang.com"},
		{Name: "XPeng", Ticker: "XPEV", Category: CategoryOEM, Domain: "xiaopeng.com"},
		{Name: "BMW", Ticker: "BMW.DE", Category: CategoryOEM, Domain: "bmw.com"},
		{Name: "Volkswagen", Ticker: "VOW3.DE", Category: CategoryOEM, Domain: "volkswagen.com"},
		{Name: "Hyundai", Ticker: "005380.KS", Category: CategoryOEM, Domain: "hyundai.com"},
		{Name: "LG Energy Solution", Ticker: "373220.KS", Category: CategoryBattery},
		{Name: "Samsung SDI", Ticker: "006400.KS", Category: CategoryBattery},
		{Name: "CATL", Ticker: "300750.SZ", Category: CategoryBattery},
		{Name: "Panasonic", Ticker: "6752.T", Category: CategoryBattery},
		{Name: "Hanon Systems", Ticker: "018880.KS", Category: CategoryHVAC},
		{Name: "Denso", Ticker: "6902.T", Category: CategoryHVAC},
		{Name: "Valeo", Ticker: "FR.PA", Category: CategoryHVAC},
	}
}
