package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/tally/errors"
)

// ProjectConfigName is searched for from the working directory upwards
const ProjectConfigName = "tally.toml"

var (
	mu           sync.Mutex
	globalConfig *Config
	explicitPath string
	usedFiles    []string
)

// SetConfigFile pins Load to a single file instead of the merged search.
// An empty path restores the search.
func SetConfigFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	explicitPath = path
	globalConfig = nil
}

// Load reads configuration once and caches it. Precedence, lowest first:
// defaults, /etc/tally/tally.toml, ~/.tally/tally.toml, the nearest project
// tally.toml, TALLY_* environment variables.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := newViper()
	var files []string
	if explicitPath != "" {
		if err := mergeFile(v, explicitPath); err != nil {
			return nil, err
		}
		files = []string{explicitPath}
	} else {
		files = mergeConfigFiles(v)
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	globalConfig = config
	usedFiles = files
	return globalConfig, nil
}

// LoadWithViper unmarshals a prepared viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads defaults plus a single file, without environment
// overrides. Used by tests and by `tally config --file`.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if err := mergeFile(v, configPath); err != nil {
		return nil, err
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", configPath)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration in %s", configPath)
	}
	return config, nil
}

// FilesUsed returns the config files merged by the last Load
func FilesUsed() []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), usedFiles...)
}

// Reset clears the cached configuration (useful for testing and reload)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	usedFiles = nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	return v
}

func mergeFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return nil
}

// findProjectConfig walks up from the working directory looking for tally.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges every config file that exists, in precedence
// order, and returns the ones it read. Unreadable files are skipped.
func mergeConfigFiles(v *viper.Viper) []string {
	var paths []string
	paths = append(paths, filepath.Join("/etc/tally", ProjectConfigName))
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tally", ProjectConfigName))
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}

	var used []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := mergeFile(v, path); err == nil {
			used = append(used, path)
		}
	}
	return used
}
