// Package config provides configuration management functionality for nexus.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nexuscfg/nexus/pkg/types"
)

// Config implements configuration management
type Config struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewConfig creates a new configuration manager
func NewConfig() *Config {
	config := &Config{
		data: make(map[string]interface{}),
	}
	
	// Load defaults
	config.loadDefaults()
	
	// Load from environment variables
	config.loadFromEnv()
	
	return config
}

// Get retrieves a configuration value
func (c *Config) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

// GetString retrieves a string configuration value
func (c *Config) GetString(key string) string {
	if value := c.Get(key); value != nil {
		return types.ConvertToString(value)
	}
	return ""
}

// GetInt retrieves an integer configuration value
func (c *Config) GetInt(key string) int {
	if value := c.Get(key); value != nil {
		if intVal, err := types.ConvertToInt(value); err == nil {
			return intVal
		}
	}
	return 0
}

// GetBool retrieves a boolean configuration value
func (c *Config) GetBool(key string) bool {
	if value := c.Get(key); value != nil {
		return types.ConvertToBool(value)
	}
	return false
}

// GetStringSlice retrieves a string slice configuration value
func (c *Config) GetStringSlice(key string) []string {
	if value := c.Get(key); value != nil {
		switch v := value.(type) {
		case []string:
			return v
		case []interface{}:
			result := make([]string, len(v))
			for i, item := range v {
				result[i] = types.ConvertToString(item)
			}
			return result
		case string:
			// Split comma-separated values
			return strings.Split(v, ",")
		}
	}
	return nil
}

// Set stores a configuration value
func (c *Config) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// SetString stores a string configuration value
func (c *Config) SetString(key, value string) {
	c.Set(key, value)
}

// SetInt stores an integer configuration value
func (c *Config) SetInt(key string, value int) {
	c.Set(key, value)
}

// SetBool stores a boolean configuration value
func (c *Config) SetBool(key string, value bool) {
	c.Set(key, value)
}

// Load loads configuration from file
func (c *Config) Load(filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}

	var configData map[string]interface{}
	if err := yaml.Unmarshal(data, &configData); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Merge loaded configuration with existing configuration
	for key, value := range configData {
		c.data[key] = value
	}

	return nil
}

// Save saves configuration to file
func (c *Config) Save(filePath string) error {
	c.mu.RLock()
	data := make(map[string]interface{})
	for k, v := range c.data {
		data[k] = v
	}
	c.mu.RUnlock()

	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(filePath, yamlData, 0644)
}

// GetDefaults returns the scheduler's default configuration values
func (c *Config) GetDefaults() map[string]interface{} {
	defaults := make(map[string]interface{})

	defaults["max_parallel_hosts"] = 10
	defaults["max_parallel_tasks"] = 1
	defaults["connect_timeout"] = 30
	defaults["command_timeout"] = 300
	defaults["check_mode"] = false
	defaults["diff_mode"] = false
	defaults["verbose"] = false
	defaults["ssh_password"] = ""
	defaults["ssh_private_key"] = ""
	defaults["ssh_user"] = ""
	defaults["sudo"] = false
	defaults["sudo_password"] = ""
	defaults["tag_filter"] = []string{}
	defaults["enable_checkpoints"] = false
	defaults["resume"] = false
	defaults["resume_from"] = ""

	return defaults
}

// loadDefaults loads default configuration values
func (c *Config) loadDefaults() {
	defaults := c.GetDefaults()
	for key, value := range defaults {
		c.data[key] = value
	}
}

// loadFromEnv loads configuration from environment variables: the
// nexus_* scheduler options, plus NO_COLOR/USER/HOME honored directly
// per their own conventions rather than a nexus_-prefixed alias.
func (c *Config) loadFromEnv() {
	envVars := map[string]string{
		"NEXUS_MAX_PARALLEL_HOSTS": "max_parallel_hosts",
		"NEXUS_MAX_PARALLEL_TASKS": "max_parallel_tasks",
		"NEXUS_CONNECT_TIMEOUT":    "connect_timeout",
		"NEXUS_COMMAND_TIMEOUT":    "command_timeout",
		"NEXUS_CHECK_MODE":         "check_mode",
		"NEXUS_DIFF_MODE":          "diff_mode",
		"NEXUS_VERBOSE":            "verbose",
		"NEXUS_SSH_PASSWORD":       "ssh_password",
		"NEXUS_SSH_PRIVATE_KEY":    "ssh_private_key",
		"NEXUS_SSH_USER":           "ssh_user",
		"NEXUS_SUDO":               "sudo",
		"NEXUS_SUDO_PASSWORD":      "sudo_password",
		"NEXUS_ENABLE_CHECKPOINTS": "enable_checkpoints",
		"NEXUS_RESUME":             "resume",
		"NEXUS_RESUME_FROM":        "resume_from",
	}

	for envVar, configKey := range envVars {
		if value := os.Getenv(envVar); value != "" {
			c.setEnvValue(configKey, value)
		}
	}

	if os.Getenv("NO_COLOR") != "" {
		c.data["no_color"] = true
	}
	if user := os.Getenv("USER"); user != "" {
		if existing, _ := c.data["ssh_user"].(string); existing == "" {
			c.data["ssh_user"] = user
		}
	}
	if home := os.Getenv("HOME"); home != "" {
		if existing, _ := c.data["ssh_private_key"].(string); existing == "" {
			c.data["ssh_private_key"] = filepath.Join(home, ".ssh", "id_rsa")
		}
	}
}

// setEnvValue sets a configuration value from an environment variable
func (c *Config) setEnvValue(key, value string) {
	// Try to convert to appropriate type based on existing value
	if existing := c.data[key]; existing != nil {
		switch existing.(type) {
		case bool:
			if boolVal, err := strconv.ParseBool(value); err == nil {
				c.data[key] = boolVal
				return
			}
		case int:
			if intVal, err := strconv.Atoi(value); err == nil {
				c.data[key] = intVal
				return
			}
		case []string:
			c.data[key] = strings.Split(value, ",")
			return
		}
	}
	
	// Default to string
	c.data[key] = value
}

// GetAll returns all configuration values
func (c *Config) GetAll() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	
	result := make(map[string]interface{})
	for k, v := range c.data {
		result[k] = v
	}
	return result
}

// Clear clears all configuration values
func (c *Config) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]interface{})
}

// Reset resets configuration to defaults
func (c *Config) Reset() {
	c.Clear()
	c.loadDefaults()
	c.loadFromEnv()
}

// Has checks if a configuration key exists
func (c *Config) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.data[key]
	return exists
}

// Delete removes a configuration key
func (c *Config) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// GetConfigPaths returns possible configuration file paths
func GetConfigPaths() []string {
	var paths []string
	
	// Current directory
	paths = append(paths, "./nexus.yaml")
	paths = append(paths, "./nexus.yml")
	paths = append(paths, "./.nexus.yaml")
	paths = append(paths, "./.nexus.yml")

	// Home directory
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".nexus.yaml"))
		paths = append(paths, filepath.Join(home, ".nexus.yml"))
		paths = append(paths, filepath.Join(home, ".config", "nexus", "config.yaml"))
		paths = append(paths, filepath.Join(home, ".config", "nexus", "config.yml"))
	}

	// System paths
	paths = append(paths, "/etc/nexus/config.yaml")
	paths = append(paths, "/etc/nexus/config.yml")
	
	return paths
}

// LoadFromDefaultPaths attempts to load configuration from default paths
func (c *Config) LoadFromDefaultPaths() error {
	paths := GetConfigPaths()
	
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			if err := c.Load(path); err != nil {
				// Log error but continue trying other paths
				continue
			}
			return nil
		}
	}
	
	// No configuration file found, use defaults
	return nil
}

// Validate validates the current configuration
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Validate max_parallel_hosts
	if hosts := c.GetInt("max_parallel_hosts"); hosts <= 0 {
		return types.NewValidationError("max_parallel_hosts", hosts, "max_parallel_hosts must be positive")
	}

	// Validate max_parallel_tasks
	if tasks := c.GetInt("max_parallel_tasks"); tasks <= 0 {
		return types.NewValidationError("max_parallel_tasks", tasks, "max_parallel_tasks must be positive")
	}

	// Validate connect_timeout
	if timeout := c.GetInt("connect_timeout"); timeout <= 0 {
		return types.NewValidationError("connect_timeout", timeout, "connect_timeout must be positive")
	}

	// Validate command_timeout
	if timeout := c.GetInt("command_timeout"); timeout <= 0 {
		return types.NewValidationError("command_timeout", timeout, "command_timeout must be positive")
	}

	return nil
}

// DefaultConfig provides a default configuration instance
var DefaultConfig = NewConfig()