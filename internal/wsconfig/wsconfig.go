// Package wsconfig loads and persists a workspace's config.yaml: a flat
// YAML map of environment settings — package manager, runtime version,
// test/lint commands — with unrecognized keys preserved but ignored, so
// forward/backward compatibility doesn't require a schema migration every
// time a new key is added.
package wsconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PackageManager is the closed set of recognized package-manager values.
type PackageManager string

const (
	PackageManagerUV     PackageManager = "uv"
	PackageManagerPip    PackageManager = "pip"
	PackageManagerPoetry PackageManager = "poetry"
	PackageManagerNpm    PackageManager = "npm"
	PackageManagerPnpm   PackageManager = "pnpm"
	PackageManagerYarn   PackageManager = "yarn"
)

// TestFramework is the closed set of recognized test-framework values.
type TestFramework string

const (
	TestFrameworkPytest TestFramework = "pytest"
	TestFrameworkJest   TestFramework = "jest"
	TestFrameworkVitest TestFramework = "vitest"
	TestFrameworkMocha  TestFramework = "mocha"
)

// recognizedKeys is consulted when splitting a loaded YAML document into
// the typed Config and its Extra bag.
var recognizedKeys = map[string]bool{
	"package_manager": true,
	"python_version":  true,
	"test_framework":  true,
	"lint_tools":      true,
	"test_command":    true,
	"lint_command":    true,
}

// Config is the parsed contents of config.yaml.
type Config struct {
	PackageManager PackageManager `yaml:"package_manager,omitempty"`
	PythonVersion  string         `yaml:"python_version,omitempty"`
	TestFramework  TestFramework  `yaml:"test_framework,omitempty"`
	LintTools      []string       `yaml:"lint_tools,omitempty"`
	TestCommand    string         `yaml:"test_command,omitempty"`
	LintCommand    string         `yaml:"lint_command,omitempty"`

	// Extra holds keys present in config.yaml that this version of
	// codeframe doesn't recognize. They round-trip through Save unchanged.
	Extra map[string]any `yaml:"-"`
}

// Load reads and parses path. A missing file is not an error; it returns
// an empty Config so callers can treat "never configured" the same as
// "configured with defaults".
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{Extra: map[string]any{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wsconfig: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("wsconfig: parse %s: %w", path, err)
	}

	cfg := &Config{Extra: map[string]any{}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("wsconfig: decode %s: %w", path, err)
	}
	for k, v := range raw {
		if !recognizedKeys[k] {
			cfg.Extra[k] = v
		}
	}
	return cfg, nil
}

// Save serializes cfg back to path, merging Extra's unrecognized keys
// alongside the typed fields so round-tripping never drops operator
// customizations this version doesn't know about.
func (c *Config) Save(path string) error {
	merged := map[string]any{}
	for k, v := range c.Extra {
		merged[k] = v
	}
	if c.PackageManager != "" {
		merged["package_manager"] = c.PackageManager
	}
	if c.PythonVersion != "" {
		merged["python_version"] = c.PythonVersion
	}
	if c.TestFramework != "" {
		merged["test_framework"] = c.TestFramework
	}
	if len(c.LintTools) > 0 {
		merged["lint_tools"] = c.LintTools
	}
	if c.TestCommand != "" {
		merged["test_command"] = c.TestCommand
	}
	if c.LintCommand != "" {
		merged["lint_command"] = c.LintCommand
	}

	data, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("wsconfig: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("wsconfig: mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Set assigns a single key, recognized or not, used by `config set <key>
// <value>`. Recognized keys are validated; lint_tools accepts a single
// value and appends to the existing list.
func (c *Config) Set(key, value string) error {
	switch key {
	case "package_manager":
		pm := PackageManager(value)
		if !validPackageManager(pm) {
			return fmt.Errorf("wsconfig: invalid package_manager %q", value)
		}
		c.PackageManager = pm
	case "python_version":
		c.PythonVersion = value
	case "test_framework":
		tf := TestFramework(value)
		if !validTestFramework(tf) {
			return fmt.Errorf("wsconfig: invalid test_framework %q", value)
		}
		c.TestFramework = tf
	case "lint_tools":
		c.LintTools = append(c.LintTools, value)
	case "test_command":
		c.TestCommand = value
	case "lint_command":
		c.LintCommand = value
	default:
		if c.Extra == nil {
			c.Extra = map[string]any{}
		}
		c.Extra[key] = value
	}
	return nil
}

func validPackageManager(pm PackageManager) bool {
	switch pm {
	case PackageManagerUV, PackageManagerPip, PackageManagerPoetry, PackageManagerNpm, PackageManagerPnpm, PackageManagerYarn:
		return true
	default:
		return false
	}
}

func validTestFramework(tf TestFramework) bool {
	switch tf {
	case TestFrameworkPytest, TestFrameworkJest, TestFrameworkVitest, TestFrameworkMocha:
		return true
	default:
		return false
	}
}

// detectionRule maps a marker file at the repo root to the package
// manager/test framework/commands it implies.
type detectionRule struct {
	marker string
	cfg    Config
}

var detectionRules = []detectionRule{
	{marker: "uv.lock", cfg: Config{PackageManager: PackageManagerUV, TestFramework: TestFrameworkPytest, TestCommand: "uv run pytest", LintCommand: "uv run ruff check ."}},
	{marker: "poetry.lock", cfg: Config{PackageManager: PackageManagerPoetry, TestFramework: TestFrameworkPytest, TestCommand: "poetry run pytest", LintCommand: "poetry run ruff check ."}},
	{marker: "requirements.txt", cfg: Config{PackageManager: PackageManagerPip, TestFramework: TestFrameworkPytest, TestCommand: "pytest", LintCommand: "ruff check ."}},
	{marker: "pnpm-lock.yaml", cfg: Config{PackageManager: PackageManagerPnpm, TestFramework: TestFrameworkJest, TestCommand: "pnpm test", LintCommand: "pnpm lint"}},
	{marker: "yarn.lock", cfg: Config{PackageManager: PackageManagerYarn, TestFramework: TestFrameworkJest, TestCommand: "yarn test", LintCommand: "yarn lint"}},
	{marker: "package-lock.json", cfg: Config{PackageManager: PackageManagerNpm, TestFramework: TestFrameworkJest, TestCommand: "npm test", LintCommand: "npm run lint"}},
}

// Detect inspects repoPath for well-known lockfiles and returns the
// best-guess Config for `config init --detect`. It never errors on "found
// nothing" — it returns an empty Config in that case, leaving detection
// to the caller's fallback prompts.
func Detect(repoPath string) (*Config, error) {
	for _, rule := range detectionRules {
		if _, err := os.Stat(filepath.Join(repoPath, rule.marker)); err == nil {
			cfg := rule.cfg
			cfg.Extra = map[string]any{}
			return &cfg, nil
		}
	}
	return &Config{Extra: map[string]any{}}, nil
}
