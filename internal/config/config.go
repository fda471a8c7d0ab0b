package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models nhaguard.yml. It is built once at startup and passed by
// reference into every component; nothing below cmd/ reads the environment.
type Config struct {
	Control struct {
		Default string `yaml:"default"`
		Dir     string `yaml:"dir"`
	} `yaml:"control"`
	Adapters struct {
		Query     AdapterConfig `yaml:"query"`
		Analysis  AdapterConfig `yaml:"analysis"`
		Ticketing AdapterConfig `yaml:"ticketing"`
	} `yaml:"adapters"`
	Scoring  Scoring  `yaml:"scoring"`
	Ticket   Ticket   `yaml:"ticket"`
	Evidence Evidence `yaml:"evidence"`
}

// AdapterConfig describes one backend adapter family: how to start it and
// how long a single call may take.
type AdapterConfig struct {
	Command        []string `yaml:"command,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

func (a AdapterConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Scoring holds the per-question weights and the verdict thresholds.
// Q1Found and Q1Absent are distinct on purpose: a confirmed-absent NHA
// inventory is a compliant state but carries its own weight.
type Scoring struct {
	Q1Found                 int  `yaml:"q1_found"`
	Q1Absent                int  `yaml:"q1_absent"`
	Q2Registered            int  `yaml:"q2_registered"`
	Q2Floor                 int  `yaml:"q2_floor"`
	QuestionMax             int  `yaml:"question_max"`
	UnknownDefault          int  `yaml:"unknown_default"`
	CountUnknownTowardScore bool `yaml:"count_unknown_toward_score"`
	CompliantThreshold      int  `yaml:"compliant_threshold"`
	PartialThreshold        int  `yaml:"partial_threshold"`
}

// Ticket holds the remediation ticket defaults.
type Ticket struct {
	ProjectKey string `yaml:"project_key"`
	Priority   string `yaml:"priority"`
}

// Evidence holds ingestion policy.
type Evidence struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// Load reads and validates config from a workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with nhag config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "nhaguard.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Control.Default == "" {
		return fmt.Errorf("config.control.default is required")
	}
	for name, a := range map[string]AdapterConfig{
		"query":     c.Adapters.Query,
		"analysis":  c.Adapters.Analysis,
		"ticketing": c.Adapters.Ticketing,
	} {
		if a.TimeoutSeconds <= 0 {
			return fmt.Errorf("config.adapters.%s.timeout_seconds must be positive", name)
		}
	}
	s := c.Scoring
	if s.QuestionMax <= 0 {
		return fmt.Errorf("config.scoring.question_max must be positive")
	}
	for name, v := range map[string]int{
		"q1_found":        s.Q1Found,
		"q1_absent":       s.Q1Absent,
		"q2_registered":   s.Q2Registered,
		"q2_floor":        s.Q2Floor,
		"unknown_default": s.UnknownDefault,
	} {
		if v < 0 || v > s.QuestionMax {
			return fmt.Errorf("config.scoring.%s must be in [0,%d]", name, s.QuestionMax)
		}
	}
	if s.PartialThreshold <= 0 || s.CompliantThreshold <= 0 {
		return fmt.Errorf("config.scoring thresholds must be positive")
	}
	if s.PartialThreshold > s.CompliantThreshold {
		return fmt.Errorf("config.scoring.partial_threshold %d exceeds compliant_threshold %d",
			s.PartialThreshold, s.CompliantThreshold)
	}
	if c.Ticket.ProjectKey == "" {
		return fmt.Errorf("config.ticket.project_key is required")
	}
	return nil
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

const defaultTemplate = `control:
  default: C-305377
  dir: controls

adapters:
  query:
    timeout_seconds: 300
  analysis:
    timeout_seconds: 300
  ticketing:
    timeout_seconds: 300

scoring:
  q1_found: 25
  q1_absent: 15
  q2_registered: 25
  q2_floor: 5
  question_max: 25
  unknown_default: 5
  count_unknown_toward_score: true
  compliant_threshold: 75
  partial_threshold: 50

ticket:
  project_key: BDFS
  priority: High

evidence:
  allowed_extensions: [.pdf, .png, .jpg, .jpeg, .csv, .xlsx, .docx, .txt, .json]
`
