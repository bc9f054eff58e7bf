package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"qdag/hybridsig"
	"qdag/logx"
)

const DefaultMaxParents = 2

// LoadGenesisConfig reads and parses the genesis.yml file
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		logx.Error("CONFIG", "Failed to open genesis file: ", err)
		return nil, err
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		logx.Error("CONFIG", "Failed to decode genesis YAML: ", err)
		return nil, err
	}
	cfg := &cfgFile.Config
	if cfg.MaxParents <= 0 {
		cfg.MaxParents = DefaultMaxParents
	}
	if len(cfg.Validators) == 0 {
		return nil, fmt.Errorf("genesis config has no validators")
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded genesis: chain_id=%s validators=%d max_parents=%d", cfg.ChainID, len(cfg.Validators), cfg.MaxParents))
	return cfg, nil
}

// LoadHybridPrivKey loads a hybrid private key from a file (expects hex encoding)
func LoadHybridPrivKey(path string) (*hybridsig.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("key file is not valid hex: %w", err)
	}
	return hybridsig.UnmarshalPrivate(raw)
}

type MempoolConfig struct {
	MaxTxs int `ini:"max_txs"`
}

type ConsensusConfig struct {
	ProposalTimeoutMs    int `ini:"proposal_timeout_ms"`
	VoteTimeoutMs        int `ini:"vote_timeout_ms"`
	RoundIntervalMs      int `ini:"round_interval_ms"`
	MaxConsecutiveAborts int `ini:"max_consecutive_aborts"`
}

type VerifierConfig struct {
	WorkerCount int `ini:"worker_count"`
}

type NodeConfig struct {
	DataDir        string `ini:"data_dir"`
	ListenAddr     string `ini:"listen_addr"`
	RPCAddr        string `ini:"rpc_addr"`
	MetricsAddr    string `ini:"metrics_addr"`
	BootstrapPeers string `ini:"bootstrap_peers"`
	RPCRateLimit   int    `ini:"rpc_rate_limit"` // requests per second per client, 0 disables
}

// LoadNodeConfig reads the [node] section from an .ini file
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	nodeCfg := &NodeConfig{}
	if err := cfg.Section("node").MapTo(nodeCfg); err != nil {
		return nil, err
	}
	return nodeCfg, nil
}

// LoadMempoolConfig reads the [mempool] section from an .ini file
func LoadMempoolConfig(path string) (*MempoolConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	mempoolCfg := &MempoolConfig{}
	if err := cfg.Section("mempool").MapTo(mempoolCfg); err != nil {
		return nil, err
	}
	return mempoolCfg, nil
}

// LoadConsensusConfig reads the [consensus] section from an .ini file
func LoadConsensusConfig(path string) (*ConsensusConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	consensusCfg := &ConsensusConfig{}
	if err := cfg.Section("consensus").MapTo(consensusCfg); err != nil {
		return nil, err
	}
	return consensusCfg, nil
}

// LoadVerifierConfig reads the [verifier] section from an .ini file
func LoadVerifierConfig(path string) (*VerifierConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	verifierCfg := &VerifierConfig{}
	if err := cfg.Section("verifier").MapTo(verifierCfg); err != nil {
		return nil, err
	}
	return verifierCfg, nil
}
