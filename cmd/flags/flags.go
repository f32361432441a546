package flags

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/medical-record-custody/common"
	"github.com/ruteri/medical-record-custody/config"
)

// SetupLogger builds the process logger from the config, with flags taking precedence.
func SetupLogger(cCtx *cli.Context, cfg config.LogConfig) (log *slog.Logger) {
	if cCtx.IsSet(LogJsonFlag.Name) {
		cfg.JSON = cCtx.Bool(LogJsonFlag.Name)
	}
	if cCtx.IsSet(LogDebugFlag.Name) {
		cfg.Debug = cCtx.Bool(LogDebugFlag.Name)
	}
	if cCtx.IsSet(LogServiceFlag.Name) {
		cfg.Service = cCtx.String(LogServiceFlag.Name)
	}

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cfg.Debug,
		JSON:    cfg.JSON,
		Service: cfg.Service,
		Version: common.Version,
		Output:  cCtx.App.ErrWriter,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig reads the config file, if any, and applies flag overrides.
func LoadConfig(cCtx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := cCtx.String(ConfigFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if cCtx.IsSet(StorageFlag.Name) {
		cfg.Storage.URIs = cCtx.StringSlice(StorageFlag.Name)
	}
	if cCtx.IsSet(LedgerKindFlag.Name) {
		cfg.Ledger.Kind = cCtx.String(LedgerKindFlag.Name)
	}
	if cCtx.IsSet(LedgerPathFlag.Name) {
		cfg.Ledger.Path = cCtx.String(LedgerPathFlag.Name)
	}
	if cCtx.IsSet(UploaderFlag.Name) {
		cfg.Ledger.Uploader = cCtx.String(UploaderFlag.Name)
	}
	if cCtx.IsSet(RpcAddrFlag.Name) {
		cfg.Ledger.RPC = cCtx.String(RpcAddrFlag.Name)
	}
	if cCtx.IsSet(ContractFlag.Name) {
		cfg.Ledger.Contract = cCtx.String(ContractFlag.Name)
	}
	if cCtx.IsSet(PrivateKeyFlag.Name) {
		cfg.Ledger.PrivateKey = cCtx.String(PrivateKeyFlag.Name)
	}
	if cCtx.IsSet(ChainIDFlag.Name) {
		cfg.Ledger.ChainID = cCtx.Int64(ChainIDFlag.Name)
	}
	if cCtx.IsSet(WaitReceiptsFlag.Name) {
		cfg.Ledger.WaitReceipts = cCtx.Bool(WaitReceiptsFlag.Name)
	}
	if cCtx.IsSet(SecretModeFlag.Name) {
		cfg.Secret.Mode = cCtx.String(SecretModeFlag.Name)
	}
	if cCtx.IsSet(FixedSecretFlag.Name) {
		cfg.Secret.FixedSecret = cCtx.String(FixedSecretFlag.Name)
	}
	if cCtx.IsSet(CacheTTLFlag.Name) {
		cfg.Cache.TTL = cCtx.Duration(CacheTTLFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"CUSTODY_CONFIG"},
	Usage:   "path to a YAML configuration file",
}

var StorageFlag = &cli.StringSliceFlag{
	Name:    "storage",
	EnvVars: []string{"CUSTODY_STORAGE"},
	Usage:   "storage backend URI (file://, badger://, s3://, ipfs://, vault://); repeat for redundancy",
}

var LedgerKindFlag = &cli.StringFlag{
	Name:    "ledger",
	EnvVars: []string{"CUSTODY_LEDGER"},
	Usage:   "ledger implementation: leveldb or onchain",
}

var LedgerPathFlag = &cli.StringFlag{
	Name:    "ledger-path",
	EnvVars: []string{"CUSTODY_LEDGER_PATH"},
	Usage:   "LevelDB ledger directory",
}

var UploaderFlag = &cli.StringFlag{
	Name:    "uploader",
	EnvVars: []string{"CUSTODY_UPLOADER"},
	Usage:   "identity recorded as uploader by the LevelDB ledger (defaults to the owner)",
}

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	EnvVars: []string{"CUSTODY_RPC_ADDR"},
	Usage:   "address to connect to RPC",
}

var ContractFlag = &cli.StringFlag{
	Name:    "contract",
	EnvVars: []string{"CUSTODY_CONTRACT"},
	Usage:   "MedicalRecords contract address",
}

var PrivateKeyFlag = &cli.StringFlag{
	Name:    "private-key",
	EnvVars: []string{"CUSTODY_PRIVATE_KEY"},
	Usage:   "hex private key used to sign ledger transactions",
}

var ChainIDFlag = &cli.Int64Flag{
	Name:    "chain-id",
	EnvVars: []string{"CUSTODY_CHAIN_ID"},
	Usage:   "chain id for transaction signing",
}

var WaitReceiptsFlag = &cli.BoolFlag{
	Name:    "wait-receipts",
	EnvVars: []string{"CUSTODY_WAIT_RECEIPTS"},
	Usage:   "wait for ledger transactions to be mined",
}

var SecretModeFlag = &cli.StringFlag{
	Name:    "secret-mode",
	EnvVars: []string{"CUSTODY_SECRET_MODE"},
	Usage:   "callerSupplied (password) or fixedConstant (wallet-only, no real secrecy)",
}

var FixedSecretFlag = &cli.StringFlag{
	Name:    "fixed-secret",
	EnvVars: []string{"CUSTODY_FIXED_SECRET"},
	Usage:   "constant used in fixedConstant mode",
}

var PasswordFlag = &cli.StringFlag{
	Name:    "password",
	EnvVars: []string{"CUSTODY_PASSWORD"},
	Usage:   "passphrase for callerSupplied mode; prompted for if unset",
}

var CacheTTLFlag = &cli.DurationFlag{
	Name:    "cache-ttl",
	EnvVars: []string{"CUSTODY_CACHE_TTL"},
	Usage:   "lifetime of cached ledger listings",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Usage: "add 'service' tag to logs",
}

var CommonFlags = []cli.Flag{
	ConfigFlag,
	StorageFlag,
	LedgerKindFlag,
	LedgerPathFlag,
	UploaderFlag,
	RpcAddrFlag,
	ContractFlag,
	PrivateKeyFlag,
	ChainIDFlag,
	WaitReceiptsFlag,
	SecretModeFlag,
	FixedSecretFlag,
	CacheTTLFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}
