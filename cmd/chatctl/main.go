// chatctl is a diagnostics CLI for a deployed chainchat registry: it
// reads the registry's counters, fee, and contract balance, and resolves
// content identifiers to gateway links. It never signs anything.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/chainchat/config"
	"github.com/opd-ai/chainchat/content"
	"github.com/opd-ai/chainchat/registry"
	"github.com/opd-ai/chainchat/wallet"
)

var (
	configPath string
	dotenvPath string
	contract   string
	mainnet    bool
	verbose    bool
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Diagnostics for a chainchat registry deployment",
		Long: `chatctl talks to the registry contract through its read-only surface:
message counters, the current per-message fee, the accumulated contract
balance, and content identifier resolution.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetLevel(logrus.WarnLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&dotenvPath, "env", "", "path to a dotenv overlay")
	root.PersistentFlags().StringVar(&contract, "contract", "", "registry contract address (overrides config)")
	root.PersistentFlags().BoolVar(&mainnet, "mainnet", false, "target the mainnet profile instead of testnet")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-command deadline")

	root.AddCommand(statusCmd())
	root.AddCommand(feeCmd())
	root.AddCommand(resolveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig assembles the effective configuration from the profile,
// the optional YAML file, the dotenv overlay, and flags, in that order.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if mainnet {
		cfg.Network = config.Mainnet
	}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(dotenvPath)
	if contract != "" {
		cfg.Registry.Contract = contract
	}
	return cfg, nil
}

// registryClient builds a read-only registry client for the configured
// deployment. No wallet session is established.
func registryClient(cfg *config.Config) (*registry.Client, error) {
	deployed, err := cfg.ContractAddress()
	if err != nil {
		return nil, fmt.Errorf("bad contract address: %w", err)
	}
	if deployed.Sentinel() {
		return nil, registry.ErrContractNotDeployed
	}

	backend := registry.NewRPCBackend(cfg.Network, deployed)
	sessions := wallet.NewManager(nil, cfg.Network)
	store := content.NewMemoryStore(content.WithGateway(cfg.Content.Gateway))
	return registry.NewClient(backend, sessions, store, deployed), nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registry counters and balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := registryClient(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			fmt.Printf("Network:   %s (chain %d)\n", cfg.Network.Name, cfg.Network.ChainID)
			fmt.Printf("Contract:  %s\n", cfg.Registry.Contract)

			total, err := client.TotalMessages(ctx)
			if err != nil {
				return fmt.Errorf("message count: %w (%s)", err, registry.Hint(err))
			}
			fmt.Printf("Messages:  %d\n", total)

			balance, err := client.ContractBalance(ctx)
			if err != nil {
				return fmt.Errorf("contract balance: %w (%s)", err, registry.Hint(err))
			}
			fmt.Printf("Balance:   %s wei %s\n", balance, cfg.Network.Currency)

			caps, err := client.Capabilities(ctx)
			if err != nil {
				return fmt.Errorf("capabilities: %w", err)
			}
			fmt.Printf("Variant:   direct=%t fees=%t contacts=%t\n",
				caps.DirectMessages, caps.Fees, caps.Contacts)
			return nil
		},
	}
}

func feeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fee",
		Short: "Show the current per-message fee",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := registryClient(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			fee := client.Fee(ctx)
			fmt.Printf("%s wei %s per message\n", fee, cfg.Network.Currency)
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <content-id>",
		Short: "Resolve a content identifier to its gateway link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			id := args[0]

			store := content.NewMemoryStore(content.WithGateway(cfg.Content.Gateway))
			fmt.Println(store.GatewayURL(id))

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if body, err := store.Retrieve(ctx, id); err == nil {
				fmt.Println(body)
			}
			return nil
		},
	}
}
