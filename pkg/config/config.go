package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/usr/local/etc/bracket_qos.yaml"

// Strategy selects how the queue tree is built.
type Strategy string

const (
	// StrategyFlat gives every client its own top-level queue.
	StrategyFlat Strategy = "flat"
	// StrategySite places clients beneath one queue per tower.
	StrategySite Strategy = "site"
	// StrategyFull builds tower -> access point -> client, including backhauls.
	StrategyFull Strategy = "full"
)

// Config is the daemon configuration.
type Config struct {
	ToISP      string `yaml:"to_isp"`
	ToInternet string `yaml:"to_internet"`
	XDPPath    string `yaml:"xdp_path"`

	InternetDownloadMbps uint32 `yaml:"internet_download_mbps"`
	InternetUploadMbps   uint32 `yaml:"internet_upload_mbps"`
	DefaultDownloadMbps  uint32 `yaml:"default_download_mbps"`
	DefaultUploadMbps    uint32 `yaml:"default_upload_mbps"`

	NMSKey string `yaml:"nms_key"`
	NMSURL string `yaml:"nms_url"`
	// TopologyFile, when set, replaces the NMS with a JSON snapshot on disk.
	TopologyFile string `yaml:"topology_file"`

	// RootSite anchors the hierarchy; matched against site id or site name.
	RootSite        string   `yaml:"root_site"`
	IncludeIPRanges []string `yaml:"include_ip_ranges"`
	IgnoreIPRanges  []string `yaml:"ignore_ip_ranges"`
	Strategy        Strategy `yaml:"strategy"`

	ControllerURL string `yaml:"controller_url"`
	BusSecret     string `yaml:"bus_secret"`

	StateDir    string        `yaml:"state_dir"`
	Interval    time.Duration `yaml:"interval"`
	Lanes       uint32        `yaml:"lanes"` // 0 = count interface queues
	MetricsAddr string        `yaml:"metrics_addr"`
	DryRun      bool          `yaml:"dry_run"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		ToISP:                "ens19",
		ToInternet:           "ens20",
		XDPPath:              "/usr/local/xdp-cpumap-tc",
		InternetDownloadMbps: 1000,
		InternetUploadMbps:   1000,
		DefaultDownloadMbps:  1000,
		DefaultUploadMbps:    1000,
		Strategy:             StrategyFlat,
		StateDir:             "/var/lib/bracket-qos",
		Interval:             5 * time.Minute,
		MetricsAddr:          ":9184",
	}
}

// Load reads a YAML config file, applies .env and BRACKET_* environment
// overrides, normalizes paths and validates the result.
func Load(path string) (Config, error) {
	_ = loadDotEnv()
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BRACKET_NMS_KEY"); v != "" {
		c.NMSKey = v
	}
	if v := os.Getenv("BRACKET_NMS_URL"); v != "" {
		c.NMSURL = v
	}
	if v := os.Getenv("BRACKET_CONTROLLER_URL"); v != "" {
		c.ControllerURL = v
	}
	if v := os.Getenv("BRACKET_BUS_SECRET"); v != "" {
		c.BusSecret = v
	}
	if v := os.Getenv("BRACKET_STATE_DIR"); v != "" {
		c.StateDir = v
	}
}

func (c *Config) normalize() {
	c.XDPPath = strings.TrimSuffix(c.XDPPath, "/")
	c.ControllerURL = strings.TrimSuffix(c.ControllerURL, "/")
	if c.NMSURL != "" && !strings.Contains(c.NMSURL, "/nms/api/") {
		c.NMSURL = strings.TrimSuffix(c.NMSURL, "/") + "/nms/api/v2.1"
	}
	c.Strategy = Strategy(strings.ToLower(string(c.Strategy)))
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ToISP == "" || c.ToInternet == "" {
		errs = append(errs, errors.New("to_isp and to_internet are required"))
	}
	if c.ToISP == c.ToInternet && c.ToISP != "" {
		errs = append(errs, errors.New("to_isp and to_internet must differ"))
	}
	if c.InternetDownloadMbps == 0 || c.InternetUploadMbps == 0 {
		errs = append(errs, errors.New("internet capacity must be non-zero"))
	}
	if c.DefaultDownloadMbps == 0 || c.DefaultUploadMbps == 0 {
		errs = append(errs, errors.New("default bandwidth must be non-zero"))
	}
	switch c.Strategy {
	case StrategyFlat, StrategySite, StrategyFull:
	default:
		errs = append(errs, fmt.Errorf("unknown strategy %q", c.Strategy))
	}
	if c.TopologyFile == "" && c.NMSURL == "" {
		errs = append(errs, errors.New("nms_url or topology_file is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	return errors.Join(errs...)
}

// LastKnownGoodPath is the durable snapshot of the last applied tree.
func (c Config) LastKnownGoodPath() string {
	return strings.TrimSuffix(c.StateDir, "/") + "/last_known_good_tree.json"
}

// JournalPath is the sqlite apply journal.
func (c Config) JournalPath() string {
	return strings.TrimSuffix(c.StateDir, "/") + "/state.db"
}
