// Package config loads the settings of the client and of the development
// services. The settings are read from an optional YAML file and then
// overridden by the environment variables prefixed with PRIVDAO_.
package config

import (
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/faucet"
	"github.com/privdao/privdao/retry"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of the environment variables.
const EnvPrefix = "privdao"

const (
	// DefaultProgramID is the identifier of the voting program of the
	// development ledger.
	DefaultProgramID = "2DKEbfmbaek7Jy6GK4Wg2eRAAtuEHWbiSiZbnTbr9KkX"

	// DefaultTokenProgramID is the identifier of the token program.
	DefaultTokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	// DefaultClusterID is the identifier of the development cluster.
	DefaultClusterID = "AudGikAh4HLbBKbuF4FfwKeTLvkFZmCbCvuCgWmFoYoi"
)

// Retry is the policy of the ledger calls.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts" split_words:"true"`
	BaseDelay   time.Duration `yaml:"base_delay" split_words:"true"`
	MaxDelay    time.Duration `yaml:"max_delay" split_words:"true"`
}

// Faucet is the setting of the development faucet.
type Faucet struct {
	Listen    string        `yaml:"listen"`
	Window    time.Duration `yaml:"window"`
	MaxClaims int           `yaml:"max_claims" split_words:"true"`
	Amount    uint64        `yaml:"amount"`
	GateMint  string        `yaml:"gate_mint" split_words:"true"`
}

// Metrics is the setting of the Prometheus endpoint.
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Config is the complete setting of a process.
type Config struct {
	// Endpoint is the URL of the ledger. An empty endpoint runs an in-process
	// ledger.
	Endpoint        string `yaml:"endpoint"`
	ClusterEndpoint string `yaml:"cluster_endpoint" split_words:"true"`
	FaucetEndpoint  string `yaml:"faucet_endpoint" split_words:"true"`

	ProgramID      string `yaml:"program_id" split_words:"true"`
	TokenProgramID string `yaml:"token_program_id" split_words:"true"`
	ClusterID      string `yaml:"cluster_id" split_words:"true"`

	// DevMode replaces the cluster by local encryption and tallying.
	DevMode bool   `yaml:"dev_mode" split_words:"true"`
	DataDir string `yaml:"data_dir" split_words:"true"`

	LogLevel     string        `yaml:"log_level" split_words:"true"`
	CallTimeout  time.Duration `yaml:"call_timeout" split_words:"true"`
	PollInterval time.Duration `yaml:"poll_interval" split_words:"true"`
	ThresholdBps uint64        `yaml:"threshold_bps" split_words:"true"`

	Retry   Retry   `yaml:"retry"`
	Faucet  Faucet  `yaml:"faucet"`
	Metrics Metrics `yaml:"metrics"`
}

// Default returns the setting of a development process.
func Default() Config {
	return Config{
		ProgramID:      DefaultProgramID,
		TokenProgramID: DefaultTokenProgramID,
		ClusterID:      DefaultClusterID,
		DataDir:        ".privdao",
		LogLevel:       "info",
		CallTimeout:    10 * time.Second,
		PollInterval:   500 * time.Millisecond,
		ThresholdBps:   5000,
		Retry: Retry{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			MaxDelay:    retry.DefaultMaxDelay,
		},
		Faucet: Faucet{
			Listen:    "127.0.0.1:3000",
			Window:    faucet.DefaultWindow,
			MaxClaims: faucet.DefaultMaxClaims,
			Amount:    faucet.DefaultAmount,
		},
	}
}

// Load returns the default setting overlaid by the file, when the path is not
// empty, and then by the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, xerrors.Errorf("failed to read config: %v", err)
		}

		err = yaml.UnmarshalStrict(data, &cfg)
		if err != nil {
			return cfg, xerrors.Errorf("failed to parse config: %v", err)
		}
	}

	err := envconfig.Process(EnvPrefix, &cfg)
	if err != nil {
		return cfg, xerrors.Errorf("failed to read environment: %v", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, xerrors.Errorf("invalid config: %v", err)
	}

	return cfg, nil
}

// Validate returns an error for the first setting out of its bounds.
func (c Config) Validate() error {
	_, err := c.Deriver()
	if err != nil {
		return err
	}

	_, err = c.Cluster()
	if err != nil {
		return err
	}

	if c.Faucet.GateMint != "" {
		_, err = address.Parse(c.Faucet.GateMint)
		if err != nil {
			return xerrors.Errorf("gate mint: %v", err)
		}
	}

	_, err = zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return xerrors.Errorf("log level: %v", err)
	}

	switch {
	case c.CallTimeout <= 0:
		return xerrors.Errorf("call timeout must be positive: %v", c.CallTimeout)
	case c.PollInterval <= 0:
		return xerrors.Errorf("poll interval must be positive: %v", c.PollInterval)
	case c.Retry.MaxAttempts < 1:
		return xerrors.Errorf("retry attempts must be at least 1: %d", c.Retry.MaxAttempts)
	case c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay:
		return xerrors.Errorf("invalid retry delays: %v..%v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	case c.Faucet.Window <= 0:
		return xerrors.Errorf("faucet window must be positive: %v", c.Faucet.Window)
	case c.Faucet.MaxClaims < 1:
		return xerrors.Errorf("faucet claims must be at least 1: %d", c.Faucet.MaxClaims)
	case c.ThresholdBps == 0 || c.ThresholdBps > 10_000:
		return xerrors.Errorf("threshold out of range: %d", c.ThresholdBps)
	}

	return nil
}

// Deriver returns the deriver of the program addresses.
func (c Config) Deriver() (address.Deriver, error) {
	program, err := address.Parse(c.ProgramID)
	if err != nil {
		return address.Deriver{}, xerrors.Errorf("program id: %v", err)
	}

	token, err := address.Parse(c.TokenProgramID)
	if err != nil {
		return address.Deriver{}, xerrors.Errorf("token program id: %v", err)
	}

	return address.NewDeriver(program, token), nil
}

// Cluster returns the identifier of the cluster.
func (c Config) Cluster() (address.Address, error) {
	cluster, err := address.Parse(c.ClusterID)
	if err != nil {
		return address.Address{}, xerrors.Errorf("cluster id: %v", err)
	}

	return cluster, nil
}

// GateMint returns the class of tokens of the faucet, or the zero address.
func (c Config) GateMint() address.Address {
	mint, err := address.Parse(c.Faucet.GateMint)
	if err != nil {
		return address.Address{}
	}

	return mint
}

// Policy returns the retry policy of the setting.
func (c Config) Policy() retry.Policy {
	return retry.NewPolicy(
		retry.WithMaxAttempts(c.Retry.MaxAttempts),
		retry.WithDelays(c.Retry.BaseDelay, c.Retry.MaxDelay),
	)
}
