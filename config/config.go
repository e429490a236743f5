// Package config holds the network and service configuration for chainchat.
//
// A Network descriptor tells the client which chain to target, how to reach
// it, and how to render explorer links. Descriptors are compiled in for the
// supported networks and may be overridden from a YAML file plus a dotenv
// overlay for deploy-time values such as the registry contract address.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/chainchat/address"
)

// Network describes a target chain.
type Network struct {
	ChainID     uint64   `yaml:"chainId"`
	Name        string   `yaml:"name"`
	Currency    string   `yaml:"currency"`
	RPCURLs     []string `yaml:"rpcUrls"`
	ExplorerURL string   `yaml:"explorerUrl"`
}

// Config is the root client configuration.
type Config struct {
	Network  Network `yaml:"network"`
	Registry struct {
		// Contract is the deployed registry address. The zero address
		// means "not deployed" and makes every mutating call fail fast.
		Contract string `yaml:"contract"`
	} `yaml:"registry"`
	Content struct {
		// Gateway is the URL template for out-of-band content display,
		// e.g. "https://ipfs.io/ipfs/". The identifier is appended.
		Gateway string `yaml:"gateway"`
	} `yaml:"content"`
}

// Mainnet is the production network profile.
var Mainnet = Network{
	ChainID:     137,
	Name:        "Polygon Mainnet",
	Currency:    "MATIC",
	RPCURLs:     []string{"https://polygon-rpc.com/"},
	ExplorerURL: "https://polygonscan.com/",
}

// Testnet is the development network profile.
var Testnet = Network{
	ChainID:     80001,
	Name:        "Polygon Mumbai",
	Currency:    "MATIC",
	RPCURLs:     []string{"https://rpc-mumbai.maticvigil.com/"},
	ExplorerURL: "https://mumbai.polygonscan.com/",
}

// DefaultGateway is the public content gateway used when none is configured.
const DefaultGateway = "https://ipfs.io/ipfs/"

// Default returns the testnet configuration with an undeployed registry.
func Default() *Config {
	cfg := &Config{Network: Testnet}
	cfg.Content.Gateway = DefaultGateway
	return cfg
}

// Load reads a YAML configuration file, falling back to Default values for
// anything the file omits.
func Load(path string) (*Config, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
	}).Debug("Loading configuration file")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.Network.RPCURLs) == 0 {
		return nil, fmt.Errorf("config: network %q has no RPC endpoints", cfg.Network.Name)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"chain_id": cfg.Network.ChainID,
		"network":  cfg.Network.Name,
	}).Info("Configuration loaded")

	return cfg, nil
}

// ApplyEnv overlays deploy-time values from the environment, loading a
// dotenv file first when one exists. Recognized variables:
//
//	CHAINCHAT_CONTRACT  registry contract address
//	CHAINCHAT_RPC_URL   prepended to the RPC endpoint list
//	CHAINCHAT_GATEWAY   content gateway base URL
func (c *Config) ApplyEnv(dotenvPath string) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ApplyEnv",
				"path":     dotenvPath,
				"error":    err.Error(),
			}).Debug("No dotenv overlay loaded")
		}
	}

	if v := os.Getenv("CHAINCHAT_CONTRACT"); v != "" {
		c.Registry.Contract = v
	}
	if v := os.Getenv("CHAINCHAT_RPC_URL"); v != "" {
		c.Network.RPCURLs = append([]string{v}, c.Network.RPCURLs...)
	}
	if v := os.Getenv("CHAINCHAT_GATEWAY"); v != "" {
		c.Content.Gateway = v
	}
}

// ContractAddress parses the configured registry contract. A missing value
// yields the zero address, which callers treat as "not deployed".
func (c *Config) ContractAddress() (address.Address, error) {
	if strings.TrimSpace(c.Registry.Contract) == "" {
		return address.Zero, nil
	}
	return address.Parse(c.Registry.Contract)
}

// TxURL builds a block-explorer link for a transaction reference.
func (n Network) TxURL(txRef string) string {
	return strings.TrimSuffix(n.ExplorerURL, "/") + "/tx/" + txRef
}

// AddressURL builds a block-explorer link for an account.
func (n Network) AddressURL(a address.Address) string {
	return strings.TrimSuffix(n.ExplorerURL, "/") + "/address/" + a.Hex()
}
