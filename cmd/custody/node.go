package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ruteri/medical-record-custody/cache"
	"github.com/ruteri/medical-record-custody/config"
	"github.com/ruteri/medical-record-custody/custody"
	"github.com/ruteri/medical-record-custody/interfaces"
	"github.com/ruteri/medical-record-custody/registry"
	"github.com/ruteri/medical-record-custody/storage"
)

// node is a wired pipeline plus the handles needed to shut it down.
type node struct {
	pipeline   *custody.Pipeline
	admin      interfaces.AccessAdmin
	secretMode custody.SecretMode

	closers []func() error
	log     *slog.Logger
}

func newNode(cfg config.Config, log *slog.Logger) (_ *node, err error) {
	n := &node{log: log}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	n.secretMode, err = custody.ParseSecretMode(cfg.Secret.Mode)
	if err != nil {
		return nil, err
	}

	locations, err := cfg.StorageLocations()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStorageBackendFactory(log).CreateMultiBackend(locations)
	if err != nil {
		return nil, fmt.Errorf("could not create storage backend: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		n.closers = append(n.closers, c.Close)
	}

	reg, err := n.openRegistry(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	n.admin = reg

	var recordCache *cache.Cache
	if cfg.Cache.Enabled {
		recordCache, err = cache.New(cache.Config{MaxEntries: cfg.Cache.MaxEntries, TTL: cfg.Cache.TTL})
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, func() error { recordCache.Close(); return nil })
	}

	n.pipeline, err = custody.NewPipeline(custody.Config{
		Store:       store,
		Ledger:      reg,
		Oracle:      reg,
		Cache:       recordCache,
		FixedSecret: cfg.Secret.FixedSecret,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (n *node) openRegistry(cfg config.LedgerConfig) (interfaces.Registry, error) {
	switch cfg.Kind {
	case config.LedgerLevelDB:
		var uploader interfaces.Address
		if cfg.Uploader != "" {
			var err error
			uploader, err = interfaces.NewAddressFromHex(cfg.Uploader)
			if err != nil {
				return nil, fmt.Errorf("uploader: %w", err)
			}
		}
		reg, err := registry.OpenLocalRegistry(cfg.Path, registry.LocalRegistryOpts{Uploader: uploader, Log: n.log})
		if err != nil {
			return nil, fmt.Errorf("could not open ledger: %w", err)
		}
		n.closers = append(n.closers, reg.Close)
		return reg, nil

	case config.LedgerOnchain:
		contract, err := interfaces.NewAddressFromHex(cfg.Contract)
		if err != nil {
			return nil, fmt.Errorf("could not parse contract address: %w", err)
		}

		ethClient, err := ethclient.Dial(cfg.RPC)
		if err != nil {
			return nil, fmt.Errorf("could not dial %s: %w", cfg.RPC, err)
		}
		n.closers = append(n.closers, func() error { ethClient.Close(); return nil })

		var auth *bind.TransactOpts
		if cfg.PrivateKey != "" {
			privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
			if err != nil {
				return nil, fmt.Errorf("could not parse private key: %w", err)
			}
			auth, err = bind.NewKeyedTransactorWithChainID(privateKey, big.NewInt(cfg.ChainID))
			if err != nil {
				return nil, fmt.Errorf("could not create transactor: %w", err)
			}
		}

		var receipts bind.DeployBackend
		if cfg.WaitReceipts {
			receipts = ethClient
		}
		return registry.NewRegistryFactory(ethClient, receipts, auth, n.log).RegistryFor(contract)

	default:
		return nil, fmt.Errorf("unknown ledger kind %q", cfg.Kind)
	}
}

// Close releases resources in reverse order of acquisition.
func (n *node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	if err := errors.Join(errs...); err != nil {
		n.log.Warn("shutdown", "err", err)
		return err
	}
	return nil
}
