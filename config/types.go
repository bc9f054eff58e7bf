package config

// ValidatorConfig is one genesis validator entry. Keys are hex encoded:
// classical is a 32-byte ed25519 public key, pqc an ML-DSA-65 public key.
type ValidatorConfig struct {
	ID              string  `yaml:"id"`
	ClassicalPubKey string  `yaml:"classical_pub_key"`
	PQCPubKey       string  `yaml:"pqc_pub_key"`
	Stake           uint64  `yaml:"stake"`
	Reputation      float64 `yaml:"reputation"`
	Active          bool    `yaml:"active"`
}

// GenesisConfig is the shared chain bootstrap read from genesis.yml.
type GenesisConfig struct {
	ChainID    string            `yaml:"chain_id"`
	MaxParents int               `yaml:"max_parents"`
	Validators []ValidatorConfig `yaml:"validators"`
}

type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}
