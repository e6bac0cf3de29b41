package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
)

const (
	WalletMySQL  = "mysql"
	WalletMemory = "memory"
)

// Account seeds the memory wallet at startup.
type Account struct {
	Identity string `toml:"Identity"`
	Balance  string `toml:"Balance"`
}

type Config struct {
	HTTPAddr       string    `toml:"HTTPAddr"`
	GRPCAddr       string    `toml:"GRPCAddr"`
	MySQLDSN       string    `toml:"MySQLDSN"`
	RedisAddr      string    `toml:"RedisAddr"`
	RegistryOwner  string    `toml:"RegistryOwner"`
	Wallet         string    `toml:"Wallet"`
	LogLevel       string    `toml:"LogLevel"`
	EventWorkers   int       `toml:"EventWorkers"`
	EventQueueSize int       `toml:"EventQueueSize"`
	Accounts       []Account `toml:"Accounts"`
}

func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":50051",
		MySQLDSN:       "root:root@tcp(localhost:3306)/secondhand?parseTime=true",
		RedisAddr:      "localhost:6379",
		RegistryOwner:  "registry",
		Wallet:         WalletMySQL,
		LogLevel:       "info",
		EventWorkers:   4,
		EventQueueSize: 10000,
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenvDefault("SHOP_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("SHOP_GRPC_ADDR", c.GRPCAddr)
	c.MySQLDSN = getenvDefault("SHOP_MYSQL_DSN", c.MySQLDSN)
	c.RedisAddr = getenvDefault("SHOP_REDIS_ADDR", c.RedisAddr)
	c.RegistryOwner = getenvDefault("SHOP_REGISTRY_OWNER", c.RegistryOwner)
	c.Wallet = getenvDefault("SHOP_WALLET", c.Wallet)
	c.LogLevel = getenvDefault("SHOP_LOG_LEVEL", c.LogLevel)

	var err error
	if c.EventWorkers, err = getenvInt("SHOP_EVENT_WORKERS", c.EventWorkers); err != nil {
		return err
	}
	if c.EventQueueSize, err = getenvInt("SHOP_EVENT_QUEUE_SIZE", c.EventQueueSize); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" && strings.TrimSpace(c.GRPCAddr) == "" {
		return errors.New("at least one of HTTPAddr or GRPCAddr is required")
	}
	if strings.TrimSpace(c.RegistryOwner) == "" {
		return errors.New("RegistryOwner is required")
	}
	switch c.Wallet {
	case WalletMySQL:
		if strings.TrimSpace(c.MySQLDSN) == "" {
			return errors.New("MySQLDSN is required for the mysql wallet")
		}
	case WalletMemory:
	default:
		return fmt.Errorf("unsupported wallet %q", c.Wallet)
	}
	if c.EventWorkers < 1 {
		return fmt.Errorf("EventWorkers must be positive, got %d", c.EventWorkers)
	}
	if c.EventQueueSize < 1 {
		return fmt.Errorf("EventQueueSize must be positive, got %d", c.EventQueueSize)
	}
	for _, acc := range c.Accounts {
		if strings.TrimSpace(acc.Identity) == "" {
			return errors.New("seed account without identity")
		}
		if _, err := uint256.FromDecimal(acc.Balance); err != nil {
			return fmt.Errorf("seed account %s: invalid balance %q", acc.Identity, acc.Balance)
		}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}
