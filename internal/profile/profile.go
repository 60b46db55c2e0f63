package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the configuration for both the aria server and the chat client.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// Addr is the binding address for the API server.
	Addr string
	// Port is the binding port for the API server.
	Port int
	// Data is the data directory.
	Data string
	// DSN points to where aria stores its own data.
	DSN string
	// Driver is the database driver (sqlite or postgres).
	Driver string
	// Version is the current version of the build.
	Version string
	// Secret signs and verifies API bearer tokens.
	Secret string

	// Model backend configuration.
	AIBaseURL      string
	AIAPIKey       string
	AIChatModel    string
	AISummaryModel string
	AIMaxTokens    int

	// Search augmentation configuration. Empty API key disables lookups.
	SearchBaseURL string
	SearchAPIKey  string
	// LookupTriggers are regular expressions matched against outgoing user
	// text; a match injects one search answer into the outbound context.
	LookupTriggers []string

	// Client mode: remote API server and bearer token.
	ServerURL   string
	ServerToken string

	// Wake-word engine configuration, passed through to the engine.
	WakeAccessKey   string
	WakeKeywordPath string
	WakeModelPath   string
}

// DefaultLookupTriggers is the default "needs lookup" heuristic, a coarse
// trigger set that operators tune per deployment.
var DefaultLookupTriggers = []string{
	`(?i)search on the web`,
	`(?i)look this up`,
	`(?i)find online`,
	`(?i)\bwhat is\b`,
	`(?i)\bhow to\b`,
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// DefaultAIBaseURL is the OpenAI endpoint assumed when no backend is
// configured explicitly.
const DefaultAIBaseURL = "https://api.openai.com/v1"

// IsAIEnabled returns true if a model backend is configured. The default
// base URL alone does not count; it is useless without an API key, while a
// custom base URL (a local llama.cpp server, say) may need no key at all.
func (p *Profile) IsAIEnabled() bool {
	return p.AIAPIKey != "" || (p.AIBaseURL != "" && p.AIBaseURL != DefaultAIBaseURL)
}

// FromEnv loads configuration from ARIA_* environment variables and an
// optional config file (aria.yaml in the data directory or cwd).
func (p *Profile) FromEnv() {
	v := viper.New()
	v.SetEnvPrefix("aria")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("addr", "")
	v.SetDefault("port", 8081)
	v.SetDefault("data", "")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("ai.base-url", DefaultAIBaseURL)
	v.SetDefault("ai.chat-model", "gpt-4o-mini")
	v.SetDefault("ai.summary-model", "gpt-4o-mini")
	v.SetDefault("ai.max-tokens", 1024)
	v.SetDefault("search.base-url", "https://api.tavily.com")
	v.SetDefault("lookup-triggers", DefaultLookupTriggers)

	v.SetConfigName("aria")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if p.Data != "" {
		v.AddConfigPath(p.Data)
	}
	// A missing config file is fine; env vars and defaults still apply.
	_ = v.ReadInConfig()

	p.Mode = v.GetString("mode")
	if p.Addr == "" {
		p.Addr = v.GetString("addr")
	}
	if p.Port == 0 {
		p.Port = v.GetInt("port")
	}
	if p.Data == "" {
		p.Data = v.GetString("data")
	}
	if p.DSN == "" {
		p.DSN = v.GetString("dsn")
	}
	if p.Driver == "" {
		p.Driver = v.GetString("driver")
	}
	if p.Secret == "" {
		p.Secret = v.GetString("secret")
	}

	p.AIBaseURL = v.GetString("ai.base-url")
	p.AIAPIKey = v.GetString("ai.api-key")
	p.AIChatModel = v.GetString("ai.chat-model")
	p.AISummaryModel = v.GetString("ai.summary-model")
	p.AIMaxTokens = v.GetInt("ai.max-tokens")

	p.SearchBaseURL = v.GetString("search.base-url")
	p.SearchAPIKey = v.GetString("search.api-key")
	p.LookupTriggers = v.GetStringSlice("lookup-triggers")

	p.ServerURL = v.GetString("server.url")
	p.ServerToken = v.GetString("server.token")

	p.WakeAccessKey = v.GetString("wake.access-key")
	p.WakeKeywordPath = v.GetString("wake.keyword-path")
	p.WakeModelPath = v.GetString("wake.model-path")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unknown db driver %q: only 'sqlite' and 'postgres' are supported", p.Driver)
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("aria_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	if len(p.LookupTriggers) == 0 {
		p.LookupTriggers = DefaultLookupTriggers
	}

	return nil
}
