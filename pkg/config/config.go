// Package config loads and validates the agent's single structured
// configuration file, resolving ${NAME} environment placeholders before
// parsing. See spec.md §3 and §4.2.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved configuration value. After load the only
// field that changes is Cluster.Endpoint, which the bring-up state
// machine's phase A fills in; a config change requires a restart.
type Config struct {
	Host     Host     `yaml:"host"`
	Resource Resource `yaml:"resource"`
	Cluster  Cluster  `yaml:"cluster"`
	Worker   Worker   `yaml:"worker"`
	Paths    Paths    `yaml:"paths"`
	Policy   Policy   `yaml:"policy"`
	Pipeline Pipeline `yaml:"pipeline"`
}

type Host struct {
	InterfaceName string `yaml:"interface_name"`
	IP            string `yaml:"ip"`
}

type Resource struct {
	MaxCPUPercent float64 `yaml:"max_cpu_percent"`
	MaxRAMPercent float64 `yaml:"max_ram_percent"`
	ThresholdT1   float64 `yaml:"threshold_t1"`
	ThresholdT2   float64 `yaml:"threshold_t2"`
	ThresholdT3   float64 `yaml:"threshold_t3"`
}

type Cluster struct {
	CredentialProfile string `yaml:"credential_profile"`
	Region            string `yaml:"region"`
	Domain            string `yaml:"domain"`
	Endpoint          string `yaml:"endpoint"` // may be empty at load; filled by the state machine's phase A
	SentinelIndex     string `yaml:"sentinel_index"`
	PingDocument      string `yaml:"ping_document"`
}

type Worker struct {
	SampleInterval         time.Duration `yaml:"sample_interval"`
	CheckInterval          time.Duration `yaml:"check_interval"`
	MetricsBindAddr        string        `yaml:"metrics_bind_addr"`
	MetricsRefreshInterval time.Duration `yaml:"metrics_refresh_interval"`
}

type Paths struct {
	ComposeFile    string `yaml:"compose_file"`
	ShipperConfig  string `yaml:"shipper_config"`
	SnifferConfig  string `yaml:"sniffer_config"`
	RAMLogFile     string `yaml:"ram_log_file"`
	DataDir        string `yaml:"data_dir"`
	DiskBufferPath string `yaml:"disk_buffer_path"`

	// SnifferTemplate and ShipperTemplate override the built-in default
	// templates phase B renders from. Empty means use the embedded
	// default for that config.
	SnifferTemplate string `yaml:"sniffer_template"`
	ShipperTemplate string `yaml:"shipper_template"`
}

// Pipeline holds the shipper's batching and disk-buffer facets rendered
// into the generated config (spec.md §6: batch size 100, batch timeout
// 30s, disk-buffer size 256 MiB).
type Pipeline struct {
	BatchSize         int           `yaml:"batch_size"`
	BatchTimeout      time.Duration `yaml:"batch_timeout"`
	DiskBufferSizeMiB int           `yaml:"disk_buffer_size_mib"`
}

type Policy struct {
	DryRun              bool          `yaml:"dry_run"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
	PhaseDTimeout       time.Duration `yaml:"phase_d_timeout"`
	RetryBackoffBase    time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffCap     time.Duration `yaml:"retry_backoff_cap"`
	RetryMaxAttempts    int           `yaml:"retry_max_attempts"`
	StopOnExit          bool          `yaml:"stop_on_exit"`
	StrictChangeCapture bool          `yaml:"strict_change_capture"`
}

// applyDefaults fills the defaults spec.md §3 calls out explicitly.
// Values already set in the file are left untouched.
func applyDefaults(c *Config) {
	if c.Resource.MaxCPUPercent == 0 {
		c.Resource.MaxCPUPercent = 70.0
	}
	if c.Resource.MaxRAMPercent == 0 {
		c.Resource.MaxRAMPercent = 70.0
	}
	if c.Resource.ThresholdT1 == 0 {
		c.Resource.ThresholdT1 = 50
	}
	if c.Resource.ThresholdT2 == 0 {
		c.Resource.ThresholdT2 = 60
	}
	if c.Resource.ThresholdT3 == 0 {
		c.Resource.ThresholdT3 = 70
	}
	if c.Worker.SampleInterval == 0 {
		c.Worker.SampleInterval = 2 * time.Second
	}
	if c.Worker.CheckInterval == 0 {
		c.Worker.CheckInterval = 30 * time.Second
	}
	if c.Worker.MetricsBindAddr == "" {
		c.Worker.MetricsBindAddr = "0.0.0.0:9100"
	}
	if c.Worker.MetricsRefreshInterval == 0 {
		c.Worker.MetricsRefreshInterval = 5 * time.Second
	}
	if c.Policy.ShutdownGracePeriod == 0 {
		c.Policy.ShutdownGracePeriod = 30 * time.Second
	}
	if c.Policy.PhaseDTimeout == 0 {
		c.Policy.PhaseDTimeout = 120 * time.Second
	}
	if c.Policy.RetryBackoffBase == 0 {
		c.Policy.RetryBackoffBase = 2 * time.Second
	}
	if c.Policy.RetryBackoffCap == 0 {
		c.Policy.RetryBackoffCap = 10 * time.Second
	}
	if c.Policy.RetryMaxAttempts == 0 {
		c.Policy.RetryMaxAttempts = 3
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 100
	}
	if c.Pipeline.BatchTimeout == 0 {
		c.Pipeline.BatchTimeout = 30 * time.Second
	}
	if c.Pipeline.DiskBufferSizeMiB == 0 {
		c.Pipeline.DiskBufferSizeMiB = 256
	}
}

// placeholderPattern matches both ${NAME} and the escaped $${NAME}.
var placeholderPattern = regexp.MustCompile(`\$\$?\{[A-Za-z_][A-Za-z0-9_]*\}`)

// SubstitutePlaceholders resolves ${NAME} from the process environment
// and unescapes $${NAME} to a literal ${NAME}. A placeholder without a
// binding is a configuration error naming the first missing variable.
func SubstitutePlaceholders(raw string) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(raw, func(match string) string {
		if missing != "" {
			return match
		}
		if strings.HasPrefix(match, "$$") {
			return match[1:] // "$${NAME}" -> "${NAME}" literal
		}
		name := match[2 : len(match)-1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = name
			return match
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("configuration error: unresolved placeholder %q", missing)
	}
	return out, nil
}

// Load reads path, substitutes environment placeholders, parses YAML,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: reading %s: %w", path, err)
	}

	resolved, err := SubstitutePlaceholders(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("configuration error: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the rules in spec.md §4.2: thresholds strictly
// increasing and each in (0,100]; ceilings at least t3; intervals
// positive; ports in range; referenced paths non-empty.
func (c *Config) Validate() error {
	r := c.Resource
	if !(0 < r.ThresholdT1 && r.ThresholdT1 <= 100) {
		return fmt.Errorf("configuration error: threshold_t1 %v out of range (0,100]", r.ThresholdT1)
	}
	if !(r.ThresholdT1 < r.ThresholdT2 && r.ThresholdT2 <= 100) {
		return fmt.Errorf("configuration error: threshold_t2 %v must be > t1 (%v) and in (0,100]", r.ThresholdT2, r.ThresholdT1)
	}
	if !(r.ThresholdT2 < r.ThresholdT3 && r.ThresholdT3 <= 100) {
		return fmt.Errorf("configuration error: threshold_t3 %v must be > t2 (%v) and in (0,100]", r.ThresholdT3, r.ThresholdT2)
	}
	if r.MaxCPUPercent < r.ThresholdT3 {
		return fmt.Errorf("configuration error: max_cpu_percent %v must be >= threshold_t3 %v", r.MaxCPUPercent, r.ThresholdT3)
	}
	if r.MaxRAMPercent < r.ThresholdT3 {
		return fmt.Errorf("configuration error: max_ram_percent %v must be >= threshold_t3 %v", r.MaxRAMPercent, r.ThresholdT3)
	}

	if c.Worker.SampleInterval <= 0 {
		return fmt.Errorf("configuration error: sample_interval must be > 0")
	}
	if c.Worker.CheckInterval <= 0 {
		return fmt.Errorf("configuration error: check_interval must be > 0")
	}
	if c.Worker.MetricsRefreshInterval <= 0 {
		return fmt.Errorf("configuration error: metrics_refresh_interval must be > 0")
	}

	if err := validatePort(c.Worker.MetricsBindAddr); err != nil {
		return err
	}

	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("configuration error: pipeline.batch_size must be > 0")
	}
	if c.Pipeline.BatchTimeout <= 0 {
		return fmt.Errorf("configuration error: pipeline.batch_timeout must be > 0")
	}
	if c.Pipeline.DiskBufferSizeMiB <= 0 {
		return fmt.Errorf("configuration error: pipeline.disk_buffer_size_mib must be > 0")
	}

	paths := map[string]string{
		"compose_file":     c.Paths.ComposeFile,
		"shipper_config":   c.Paths.ShipperConfig,
		"sniffer_config":   c.Paths.SnifferConfig,
		"ram_log_file":     c.Paths.RAMLogFile,
		"data_dir":         c.Paths.DataDir,
		"disk_buffer_path": c.Paths.DiskBufferPath,
	}
	for name, v := range paths {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("configuration error: path %q must not be empty", name)
		}
	}

	return nil
}

func validatePort(bindAddr string) error {
	idx := strings.LastIndex(bindAddr, ":")
	if idx < 0 || idx == len(bindAddr)-1 {
		return fmt.Errorf("configuration error: metrics_bind_addr %q missing port", bindAddr)
	}
	portStr := bindAddr[idx+1:]
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("configuration error: metrics_bind_addr %q has a non-numeric port", bindAddr)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("configuration error: metrics_bind_addr port %d out of range [1,65535]", port)
	}
	return nil
}
