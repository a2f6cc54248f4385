// Package config loads the daemon's environment-driven configuration
// through Viper, the way coreth's go.mod already carries spf13/viper,
// spf13/cast and spf13/pflag as a group for exactly this purpose.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved daemon configuration.
type Config struct {
	// Coordination chain (Sui-family) access.
	CoordinationRPCURL        string
	CoordinationPackageID     string
	RegistryObjectID          string
	OrchestratorStateObjectID string
	SigningStateObjectID      string
	MintingAuthorityObjectID  string
	AdminCapObjectID          string

	// Target chain (Solana-family) access.
	TargetRPCURL    string
	TargetProgramID string

	// Mint submission retry policy.
	MintMaxRetries int
	MintBaseDelay  time.Duration

	// Signer / MPC.
	SignerKeyFile     string
	MPCNetwork        string // "testnet" | "mainnet"
	EncryptionSeedHex string
	MPCBaseURL        string

	// Treasury thresholds, base units.
	MinFeeBalance uint64
	MinGasBalance uint64

	// Presign pool.
	PresignMinAvailable int
	PresignLeaseTTL     time.Duration

	// Attestation ingester.
	EnableAttestationIngester bool
	IndexerBaseURL            string
	Emitters                  []EmitterConfig
	IndexerPollInterval       time.Duration

	// Per-source-chain RPC urls, keyed by chains.Tag.
	SourceChainRPCURLs map[string]string

	// Content storage.
	ContentStorageBaseURL string
	ContentStorageSecret  string
	ContentStorageNetwork string

	// API.
	APIPort int

	// Fee amount charged to start a session, in the target chain's base units.
	FeeAmountBaseUnits uint64
	// FeePaymentAddress is the target-chain account the session fee must
	// be transferred to; returned to callers as /api/seal/start's
	// paymentAddress and checked against during confirm-payment.
	FeePaymentAddress string

	// Persistence.
	DatabasePath string

	// Logging.
	LogLevel string

	// EventPoller.
	PollIntervalMs int
}

// EmitterConfig names one external attestation emitter the ingester
// tracks: a chain id, its emitter address, and a human label.
type EmitterConfig struct {
	ChainID uint16
	Address string
	Label   string
}

// Load reads configuration from environment variables (and an optional
// TOML override file), returning a validated Config or a Fatal-class error.
func Load(configFilePath string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFilePath != "" {
		v.SetConfigFile(configFilePath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", configFilePath, err)
		}
	}

	cfg := Config{
		CoordinationRPCURL:        v.GetString("coordination_rpc_url"),
		CoordinationPackageID:     v.GetString("coordination_package_id"),
		RegistryObjectID:          v.GetString("registry_object_id"),
		OrchestratorStateObjectID: v.GetString("orchestrator_state_object_id"),
		SigningStateObjectID:      v.GetString("signing_state_object_id"),
		MintingAuthorityObjectID:  v.GetString("minting_authority_object_id"),
		AdminCapObjectID:          v.GetString("admin_cap_object_id"),

		TargetRPCURL:    v.GetString("target_rpc_url"),
		TargetProgramID: v.GetString("target_program_id"),

		MintMaxRetries: v.GetInt("mint_max_retries"),
		MintBaseDelay:  v.GetDuration("mint_base_delay"),

		SignerKeyFile:     v.GetString("signer_key_file"),
		MPCNetwork:        v.GetString("mpc_network"),
		EncryptionSeedHex: v.GetString("encryption_seed_hex"),
		MPCBaseURL:        v.GetString("mpc_base_url"),

		MinFeeBalance: v.GetUint64("min_fee_balance"),
		MinGasBalance: v.GetUint64("min_gas_balance"),

		PresignMinAvailable: v.GetInt("presign_min_available"),
		PresignLeaseTTL:     v.GetDuration("presign_lease_ttl"),

		EnableAttestationIngester: v.GetBool("enable_attestation_ingester"),
		IndexerBaseURL:            v.GetString("indexer_base_url"),
		IndexerPollInterval:       v.GetDuration("indexer_poll_interval"),

		ContentStorageBaseURL: v.GetString("content_storage_base_url"),
		ContentStorageSecret:  v.GetString("content_storage_secret"),
		ContentStorageNetwork: v.GetString("content_storage_network"),

		APIPort:            v.GetInt("api_port"),
		FeeAmountBaseUnits: v.GetUint64("fee_amount_base_units"),
		FeePaymentAddress:  v.GetString("fee_payment_address"),
		DatabasePath:       v.GetString("database_path"),
		LogLevel:           v.GetString("log_level"),
		PollIntervalMs:     v.GetInt("poll_interval_ms"),

		SourceChainRPCURLs: parseKVList(v.GetString("source_chain_rpc_urls")),
		Emitters:           parseEmitters(v.GetString("emitters")),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mpc_network", "testnet")
	v.SetDefault("min_fee_balance", 0)
	v.SetDefault("min_gas_balance", 0)
	v.SetDefault("presign_min_available", 3)
	v.SetDefault("presign_lease_ttl", 2*time.Minute)
	v.SetDefault("enable_attestation_ingester", false)
	v.SetDefault("indexer_poll_interval", 10*time.Second)
	v.SetDefault("api_port", 8080)
	v.SetDefault("database_path", "./rebornd-data")
	v.SetDefault("log_level", "info")
	v.SetDefault("poll_interval_ms", 4000)
	v.SetDefault("mint_max_retries", 5)
	v.SetDefault("mint_base_delay", 2*time.Second)
}

func (c Config) validate() error {
	if c.CoordinationRPCURL == "" {
		return fmt.Errorf("config: COORDINATION_RPC_URL is required")
	}
	if c.TargetRPCURL == "" {
		return fmt.Errorf("config: TARGET_RPC_URL is required")
	}
	if c.SignerKeyFile == "" {
		return fmt.Errorf("config: SIGNER_KEY_FILE is required")
	}
	if c.EnableAttestationIngester && c.IndexerBaseURL == "" {
		return fmt.Errorf("config: INDEXER_BASE_URL is required when attestation ingester is enabled")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: DATABASE_PATH is required")
	}
	if c.FeePaymentAddress == "" {
		return fmt.Errorf("config: FEE_PAYMENT_ADDRESS is required")
	}
	return nil
}

// parseKVList parses "tag=url,tag2=url2" into a map; used for
// SOURCE_CHAIN_RPC_URLS since a single env var is easier to operate than
// one var per chain.
func parseKVList(s string) map[string]string {
	out := map[string]string{}
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

// parseEmitters parses "chainId:address:label,chainId:address:label" into
// EmitterConfig entries.
func parseEmitters(s string) []EmitterConfig {
	var out []EmitterConfig
	if s == "" {
		return out
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			continue
		}
		var chainID uint16
		fmt.Sscanf(parts[0], "%d", &chainID)
		out = append(out, EmitterConfig{ChainID: chainID, Address: parts[1], Label: parts[2]})
	}
	return out
}
