package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration file that fails validation.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Evaluator EvaluatorConfig        `yaml:"evaluator"`
	Agents    map[string]AgentConfig `yaml:"agents"`
	Batch     BatchConfig            `yaml:"batch"`
	Store     StoreConfig            `yaml:"store"`
	NATS      NATSConfig             `yaml:"nats"`
	Web       WebConfig              `yaml:"web"`
	Telegram  TelegramConfig         `yaml:"telegram"`
	Vault     VaultConfig            `yaml:"vault"`
	Scheduler SchedulerConfig        `yaml:"scheduler"`
	Schedules []ScheduleConfig       `yaml:"schedules"`
	Log       LogConfig              `yaml:"log"`
}

type EvaluatorConfig struct {
	AgentSequence   []string          `yaml:"agent_sequence"`
	MaxTurn         int               `yaml:"max_turn"`
	PromptTemplate  PromptTemplate    `yaml:"prompt_template"`
	FinalPrompt     string            `yaml:"final_prompt"`
	Pattern         string            `yaml:"pattern"`
	RoleDescription map[string]string `yaml:"role_description"`
	ResponseKeys    []string          `yaml:"response_keys"`
}

// AgentConfig selects and tunes the generation backend of one agent.
type AgentConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	RateLimit   float64       `yaml:"rate_limit"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Reply       string        `yaml:"reply"`
	Upstream    *AgentConfig  `yaml:"upstream"`
}

type BatchConfig struct {
	Input   string `yaml:"input"`
	Output  string `yaml:"output"`
	Workers int    `yaml:"workers"`
	OnError string `yaml:"on_error"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// URL connects to an external server instead of embedding one.
	URL string `yaml:"url"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
	// DataDir holds the batch files runs started over HTTP may read and write.
	DataDir string `yaml:"data_dir"`
}

type TelegramConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ScheduleConfig struct {
	Name   string `yaml:"name"`
	Cron   string `yaml:"cron"`
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PromptTemplate holds the prompt messages. In YAML it is either a single
// string or a list of strings.
type PromptTemplate []string

func (p *PromptTemplate) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*p = PromptTemplate{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("line %d: prompt_template must be a string or a list of strings", node.Line)
	}
}

const (
	DefaultTimeout = 2 * time.Minute
	DefaultPattern = `\((\d+),\s*(\d+)\)`
)

func defaults() Config {
	return Config{
		Evaluator: EvaluatorConfig{
			MaxTurn:      2,
			Pattern:      DefaultPattern,
			ResponseKeys: []string{"gpt35", "vicuna"},
		},
		Batch: BatchConfig{
			Input:   "test.json",
			Output:  "output.json",
			Workers: 1,
			OnError: "abort",
		},
		Store: StoreConfig{
			Path: "data/juror.db",
		},
		NATS: NATSConfig{
			Host: "127.0.0.1",
			Port: 4222,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
			DataDir: "data",
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv("JUROR_CONFIG"); p != "" {
		return p
	}
	return "config/juror.yaml"
}

func Load() (*Config, error) {
	return LoadFile(Path())
}

// envRef matches the braced ${NAME} form only; bare "$5" is left alone.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := expandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	for name, a := range cfg.Agents {
		if a.Timeout == 0 {
			a.Timeout = DefaultTimeout
		}
		if a.Upstream != nil && a.Upstream.Timeout == 0 {
			up := *a.Upstream
			up.Timeout = DefaultTimeout
			a.Upstream = &up
		}
		cfg.Agents[name] = a
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("JUROR_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("JUROR_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("JUROR_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("JUROR_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("JUROR_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("JUROR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("JUROR_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("JUROR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.Workers = n
		}
	}
	if v := os.Getenv("JUROR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks everything that can be checked without building the
// evaluator. It reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	ev := c.Evaluator
	if len(ev.AgentSequence) == 0 {
		add("evaluator.agent_sequence is empty")
	}
	if ev.MaxTurn <= 0 {
		add("evaluator.max_turn must be positive, got %d", ev.MaxTurn)
	}
	if len(ev.PromptTemplate) == 0 {
		add("evaluator.prompt_template is empty")
	}
	if ev.Pattern == "" {
		add("evaluator.pattern is empty")
	}
	if len(ev.ResponseKeys) != 2 {
		add("evaluator.response_keys needs exactly 2 entries, got %d", len(ev.ResponseKeys))
	}

	seen := make(map[string]bool)
	for _, name := range ev.AgentSequence {
		if seen[name] {
			add("agent %q appears twice in evaluator.agent_sequence", name)
		}
		seen[name] = true
		if _, ok := ev.RoleDescription[name]; !ok {
			add("evaluator.role_description has no entry for %q", name)
		}
		a, ok := c.Agents[name]
		if !ok {
			add("agents has no entry for %q", name)
			continue
		}
		if err := a.validate(); err != nil {
			add("agents.%s: %v", name, err)
		}
	}
	for name := range c.Agents {
		if !seen[name] {
			add("agents.%s is not in evaluator.agent_sequence", name)
		}
	}

	if c.Batch.Workers <= 0 {
		add("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	switch c.Batch.OnError {
	case "abort", "skip":
	default:
		add("batch.on_error must be abort or skip, got %q", c.Batch.OnError)
	}

	names := make(map[string]bool)
	for i, s := range c.Schedules {
		if s.Name == "" {
			add("schedules[%d] has no name", i)
		} else if names[s.Name] {
			add("schedule %q defined twice", s.Name)
		}
		names[s.Name] = true
		if s.Cron == "" {
			add("schedules[%d] has no cron expression", i)
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Providers understood by the backend package.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderNATS   = "nats"
	ProviderStatic = "static"
)

func (a AgentConfig) validate() error {
	switch a.Provider {
	case ProviderOllama, ProviderOpenAI:
		if a.Model == "" {
			return fmt.Errorf("provider %s needs a model", a.Provider)
		}
	case ProviderNATS:
		if a.Upstream != nil && a.Upstream.Provider == ProviderNATS {
			return errors.New("nats upstream cannot itself be nats")
		}
	case ProviderStatic:
	case "":
		return errors.New("provider is required")
	default:
		return fmt.Errorf("unknown provider %q", a.Provider)
	}
	if a.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", a.Retries)
	}
	if a.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %v", a.RateLimit)
	}
	if a.Upstream != nil && a.Provider != ProviderNATS {
		return errors.New("upstream is only valid with provider nats")
	}
	return nil
}
