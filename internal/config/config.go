package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taxline/internal/calendar"
	"taxline/internal/domain"
)

// Config models taxline.yml: the rule set injected into the engine.
type Config struct {
	Lifecycle struct {
		Transitions map[string][]string `yaml:"transitions" json:"transitions"`
	} `yaml:"lifecycle" json:"lifecycle"`
	Checklist struct {
		Baseline []ChecklistTemplate `yaml:"baseline" json:"baseline"`
	} `yaml:"checklist" json:"checklist"`
	Reminders struct {
		DocumentsFirst  string             `yaml:"documents_first" json:"documents_first"`
		IDWeeklyCutover string             `yaml:"id_weekly_cutover" json:"id_weekly_cutover"`
		DefaultDue      map[string]DueRule `yaml:"default_due" json:"default_due"`
	} `yaml:"reminders" json:"reminders"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type ChecklistTemplate struct {
	Key      string `yaml:"key" json:"key"`
	Label    string `yaml:"label" json:"label"`
	Required bool   `yaml:"required" json:"required"`
}

// DueRule is a statutory default due date: MM-DD in tax year + year_offset.
type DueRule struct {
	Date       string `yaml:"date" json:"date"`
	YearOffset int    `yaml:"year_offset" json:"year_offset"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"-"`
	Streams        []string `yaml:"streams" json:"streams,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Lifecycle.Transitions) == 0 {
		return fmt.Errorf("config.lifecycle.transitions is required")
	}
	for from, targets := range c.Lifecycle.Transitions {
		if _, err := domain.ParseStatus(from); err != nil {
			return fmt.Errorf("config.lifecycle.transitions: %w", err)
		}
		for _, to := range targets {
			if _, err := domain.ParseStatus(to); err != nil {
				return fmt.Errorf("config.lifecycle.transitions.%s: %w", from, err)
			}
		}
	}
	seen := map[string]bool{}
	for i, item := range c.Checklist.Baseline {
		if strings.TrimSpace(item.Key) == "" {
			return fmt.Errorf("config.checklist.baseline[%d].key is required", i)
		}
		if seen[item.Key] {
			return fmt.Errorf("config.checklist.baseline has duplicate key %s", item.Key)
		}
		seen[item.Key] = true
	}
	if _, err := parseMonthDay(c.Reminders.DocumentsFirst); err != nil {
		return fmt.Errorf("config.reminders.documents_first: %w", err)
	}
	if _, err := parseMonthDay(c.Reminders.IDWeeklyCutover); err != nil {
		return fmt.Errorf("config.reminders.id_weekly_cutover: %w", err)
	}
	for _, s := range domain.Streams {
		rule, ok := c.Reminders.DefaultDue[string(s)]
		if !ok {
			return fmt.Errorf("config.reminders.default_due.%s is required", s)
		}
		if _, err := parseMonthDay(rule.Date); err != nil {
			return fmt.Errorf("config.reminders.default_due.%s: %w", s, err)
		}
	}
	for stream := range c.Reminders.DefaultDue {
		if _, err := domain.ParseStream(stream); err != nil {
			return fmt.Errorf("config.reminders.default_due: %w", err)
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, s := range hook.Streams {
			if _, err := domain.ParseStream(s); err != nil {
				return fmt.Errorf("config.webhooks[%d].streams: %w", i, err)
			}
		}
	}
	return nil
}

// Transitions returns the adjacency table as typed statuses.
func (c *Config) Transitions() map[domain.Status][]domain.Status {
	out := make(map[domain.Status][]domain.Status, len(c.Lifecycle.Transitions))
	for from, targets := range c.Lifecycle.Transitions {
		list := make([]domain.Status, 0, len(targets))
		for _, to := range targets {
			list = append(list, domain.Status(to))
		}
		out[domain.Status(from)] = list
	}
	return out
}

// DocumentsFirst is the first documents reminder date, relative to the tax year.
func (c *Config) DocumentsFirst() calendar.MonthDay {
	md, _ := parseMonthDay(c.Reminders.DocumentsFirst)
	return md
}

// IDWeeklyCutover is the date the ID stream switches from monthly to weekly.
func (c *Config) IDWeeklyCutover() calendar.MonthDay {
	md, _ := parseMonthDay(c.Reminders.IDWeeklyCutover)
	return md
}

// DefaultDue returns the statutory due date rule for a stream.
func (c *Config) DefaultDue(s domain.Stream) calendar.MonthDay {
	rule := c.Reminders.DefaultDue[string(s)]
	md, _ := parseMonthDay(rule.Date)
	md.YearOffset = rule.YearOffset
	return md
}

func parseMonthDay(s string) (calendar.MonthDay, error) {
	t, err := time.Parse("01-02", strings.TrimSpace(s))
	if err != nil {
		return calendar.MonthDay{}, fmt.Errorf("invalid month-day %q (want MM-DD)", s)
	}
	return calendar.MonthDay{Month: t.Month(), Day: t.Day()}, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taxline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in rule set.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `lifecycle:
  transitions:
    INVITED: [ENGAGED]
    ENGAGED: [COLLECTING_DOCS]
    COLLECTING_DOCS: [AWAITING_CONFIRMATION, READY_FOR_PREP]
    AWAITING_CONFIRMATION: [READY_FOR_PREP]
    READY_FOR_PREP: [IN_PREP]
    IN_PREP: [AWAITING_EFILE_AUTH, FILED]
    AWAITING_EFILE_AUTH: [FILED]
    FILED: []

checklist:
  baseline:
    - key: prior_year_return
      label: "Prior year tax return"
      required: true
    - key: w2_forms
      label: "W-2 wage statements"
      required: true
    - key: form_1099
      label: "1099 income statements"
      required: true
    - key: form_1098
      label: "1098 mortgage interest statement"
      required: false
    - key: charitable_receipts
      label: "Charitable contribution receipts"
      required: false

reminders:
  documents_first: "02-15"
  id_weekly_cutover: "03-15"
  default_due:
    DOCUMENTS:
      date: "04-15"
      year_offset: 1
    QUESTIONNAIRE:
      date: "04-15"
      year_offset: 1
    ID:
      date: "04-15"
      year_offset: 1
`
