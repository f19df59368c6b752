// Package config loads the gosling peer configuration with viper. A default
// config file is written on first run under the gosling base directory.
package config

import (
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/gosling-project/go-gosling/lib/util"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GOSLING_BASE_DIR = ".go-gosling"

// InitConfig wires viper to the config file (the default location or the
// CfgFile override), loads defaults and creates the file if needed.
func InitConfig() {
	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		// Set up viper to use the default config path $HOME/.go-gosling/
		viper.AddConfigPath(BuildGoslingDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Load defaults
	setDefaults()

	// handle config file creating it if needed
	handleConfigFile()
}

func setDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("base_dir", defaults.BaseDir)
	viper.SetDefault("working_dir", defaults.WorkingDir)

	// Onion service defaults
	viper.SetDefault("identity_port", defaults.IdentityPort)
	viper.SetDefault("endpoint_port", defaults.EndpointPort)

	// Honk-RPC session defaults
	viper.SetDefault("rpc.max_message_size", defaults.MaxMessageSize)
	viper.SetDefault("rpc.max_pending_requests", defaults.MaxPendingRequests)
	viper.SetDefault("rpc.call_timeout_seconds", defaults.CallTimeoutSeconds)
}

// NewConfigFromViper creates a Config from current viper settings.
func NewConfigFromViper() *Config {
	return &Config{
		BaseDir:            viper.GetString("base_dir"),
		WorkingDir:         viper.GetString("working_dir"),
		IdentityPort:       uint16(viper.GetUint32("identity_port")),
		EndpointPort:       uint16(viper.GetUint32("endpoint_port")),
		MaxMessageSize:     viper.GetInt("rpc.max_message_size"),
		MaxPendingRequests: viper.GetInt("rpc.max_pending_requests"),
		CallTimeoutSeconds: viper.GetInt("rpc.call_timeout_seconds"),
	}
}

func createDefaultConfig(defaultConfigDir string) {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	// Ensure directory exists
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		log.Fatalf("Could not create config directory: %s", err)
	}

	// Write current config file
	if err := viper.WriteConfigAs(defaultConfigFile); err != nil {
		log.Fatalf("Could not write default config file: %s", err)
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
}

func handleConfigFile() {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if CfgFile != "" {
				log.Fatalf("Config file %s is not found: %s", CfgFile, err)
			} else {
				createDefaultConfig(BuildGoslingDirPath())
			}
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	} else {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

// BuildGoslingDirPath returns the default base directory.
func BuildGoslingDirPath() string {
	return filepath.Join(util.UserHome(), GOSLING_BASE_DIR)
}
