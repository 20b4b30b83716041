package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caarlos0/env/v6"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the multisig client configuration
const (
	EnvMultisigPersistence     = "MULTISIG_PERSISTENCE"
	EnvMultisigDataPath        = "MULTISIG_DATA_PATH"
	EnvMultisigRedisAddress    = "MULTISIG_REDIS_ADDRESS"
	EnvMultisigRedisPassword   = "MULTISIG_REDIS_PASSWORD"
	EnvMultisigRedisDB         = "MULTISIG_REDIS_DB"
	EnvMultisigRedisKeyPrefix  = "MULTISIG_REDIS_KEY_PREFIX"
	EnvMultisigBackendURL      = "MULTISIG_BACKEND_URL"
	EnvMultisigChainID         = "MULTISIG_CHAIN_ID"
	EnvMultisigPageSize        = "MULTISIG_PAGE_SIZE"
	EnvMultisigRequestsPerSec  = "MULTISIG_REQUESTS_PER_SECOND"
	EnvMultisigDescriptorCache = "MULTISIG_DESCRIPTOR_CACHE_SIZE"
	EnvMultisigDebug           = "MULTISIG_DEBUG"
)

type PersistenceType string

func (p PersistenceType) String() string {
	return string(p)
}

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
)

type ChainId string

const (
	ChainId_CosmosHub   ChainId = "cosmoshub-4"
	ChainId_Osmosis     ChainId = "osmosis-1"
	ChainId_CosmosLocal ChainId = "localnet"
)

type ChainName string

const (
	ChainName_CosmosHub   ChainName = "cosmoshub"
	ChainName_Osmosis     ChainName = "osmosis"
	ChainName_CosmosLocal ChainName = "localnet"
)

// ChainParams holds the address and denomination settings of a chain
type ChainParams struct {
	Name         ChainName
	Prefix       string // bech32 human readable part
	Denom        string // base denomination
	DisplayDenom string
	Exponent     int32 // display exponent, 6 for atom -> uatom
}

var ChainIdToName = map[ChainId]ChainName{
	ChainId_CosmosHub:   ChainName_CosmosHub,
	ChainId_Osmosis:     ChainName_Osmosis,
	ChainId_CosmosLocal: ChainName_CosmosLocal,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_CosmosHub:   ChainId_CosmosHub,
	ChainName_Osmosis:     ChainId_Osmosis,
	ChainName_CosmosLocal: ChainId_CosmosLocal,
}

var Chains = map[ChainId]*ChainParams{
	ChainId_CosmosHub: {
		Name:         ChainName_CosmosHub,
		Prefix:       "cosmos",
		Denom:        "uatom",
		Exponent:     6,
		DisplayDenom: "atom",
	},
	ChainId_Osmosis: {
		Name:         ChainName_Osmosis,
		Prefix:       "osmo",
		Denom:        "uosmo",
		Exponent:     6,
		DisplayDenom: "osmo",
	},
	ChainId_CosmosLocal: {
		Name:         ChainName_CosmosLocal,
		Prefix:       "cosmos",
		Denom:        "stake",
		Exponent:     0,
		DisplayDenom: "stake",
	},
}

// GetChainParams returns the parameters for a supported chain
func GetChainParams(chainId ChainId) (*ChainParams, error) {
	params, ok := Chains[chainId]
	if !ok {
		return nil, fmt.Errorf("unsupported chain ID: %s", chainId)
	}
	return params, nil
}

// GetSupportedChainIDs returns all supported chain IDs in a stable order
func GetSupportedChainIDs() []ChainId {
	ids := make([]ChainId, 0, len(Chains))
	for id := range Chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetSupportedChainIDsString returns supported chain IDs for CLI help
func GetSupportedChainIDsString() string {
	ids := GetSupportedChainIDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s (%s)", id, ChainIdToName[id])
	}
	return strings.Join(parts, ", ")
}

// Config is the complete client configuration. Zero values are filled from
// the environment by Load.
type Config struct {
	Persistence PersistenceType `env:"MULTISIG_PERSISTENCE" envDefault:"badger"`
	DataPath    string          `env:"MULTISIG_DATA_PATH" envDefault:"./multisig-data"`

	RedisAddress   string `env:"MULTISIG_REDIS_ADDRESS"`
	RedisPassword  string `env:"MULTISIG_REDIS_PASSWORD"`
	RedisDB        int    `env:"MULTISIG_REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"MULTISIG_REDIS_KEY_PREFIX"`

	// BackendURL routes account registration through the REST backend when set
	BackendURL     string  `env:"MULTISIG_BACKEND_URL"`
	RequestsPerSec float64 `env:"MULTISIG_REQUESTS_PER_SECOND" envDefault:"10"`

	ChainID  ChainId `env:"MULTISIG_CHAIN_ID" envDefault:"cosmoshub-4"`
	PageSize int     `env:"MULTISIG_PAGE_SIZE" envDefault:"5"`
	Debug    bool    `env:"MULTISIG_DEBUG" envDefault:"false"`

	// DescriptorCacheSize bounds the multisig descriptors the proposal tracker keeps
	DescriptorCacheSize int `env:"MULTISIG_DESCRIPTOR_CACHE_SIZE" envDefault:"1024"`
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return c, nil
}

// Chain returns the parameters of the configured chain
func (c *Config) Chain() (*ChainParams, error) {
	return GetChainParams(c.ChainID)
}

// Validate validates the configuration, reporting every invalid field
func (c *Config) Validate() error {
	var allErrors field.ErrorList

	switch c.Persistence {
	case PersistenceType_Memory:
	case PersistenceType_Badger:
		if c.DataPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("dataPath"), "dataPath is required for badger persistence"))
		}
	case PersistenceType_Redis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redisAddress is required for redis persistence"))
		}
		if c.RedisDB < 0 {
			allErrors = append(allErrors, field.Invalid(field.NewPath("redisDB"), c.RedisDB, "must not be negative"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistence"), c.Persistence,
			[]string{PersistenceType_Memory.String(), PersistenceType_Badger.String(), PersistenceType_Redis.String()}))
	}

	if c.BackendURL != "" && !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		allErrors = append(allErrors, field.Invalid(field.NewPath("backendURL"), c.BackendURL, "must be an http or https URL"))
	}
	if c.RequestsPerSec < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestsPerSecond"), c.RequestsPerSec, "must not be negative"))
	}

	if _, ok := Chains[c.ChainID]; !ok {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainID"), c.ChainID,
			fmt.Sprintf("unsupported chain, supported: %s", GetSupportedChainIDsString())))
	}
	if c.PageSize < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("pageSize"), c.PageSize, "must be at least 1"))
	}
	if c.DescriptorCacheSize < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("descriptorCacheSize"), c.DescriptorCacheSize, "must be at least 1"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
