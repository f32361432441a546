package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ruteri/medical-record-custody/interfaces"
)

// ErrNoTransactOpts is returned when a transaction is attempted without first setting transaction options.
var ErrNoTransactOpts = errors.New("no authorized transactor available")

var parsedABI = mustParseABI(MedicalRecordsABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// recordTuple mirrors the getRecords output tuple.
type recordTuple struct {
	ContentId [32]byte
	FileType  string
	Category  string
	Uploader  common.Address
	Timestamp *big.Int
}

type accessRecorded struct {
	Owner     common.Address
	Requester common.Address
	Timestamp *big.Int
}

// OnchainRegistryClient implements interfaces.Registry against a
// MedicalRecords contract deployed on an EVM chain.
type OnchainRegistryClient struct {
	contract *bind.BoundContract
	backend  bind.DeployBackend
	address  common.Address
	auth     *bind.TransactOpts
	log      *slog.Logger
}

// NewOnchainRegistryClient creates a new client for the MedicalRecords contract
// at the specified address. backend is used to wait for transaction receipts;
// when nil, writes return as soon as the transaction is accepted.
func NewOnchainRegistryClient(client bind.ContractBackend, backend bind.DeployBackend, address common.Address) (*OnchainRegistryClient, error) {
	if client == nil {
		return nil, errors.New("nil contract backend")
	}

	return &OnchainRegistryClient{
		contract: bind.NewBoundContract(address, parsedABI, client, client, client),
		backend:  backend,
		address:  address,
		log:      slog.Default(),
	}, nil
}

// SetTransactOpts sets the transaction options required for functions that modify state.
// The transactor address becomes the uploader of every appended record.
func (c *OnchainRegistryClient) SetTransactOpts(auth *bind.TransactOpts) {
	c.auth = auth
}

// SetLogger replaces the client logger.
func (c *OnchainRegistryClient) SetLogger(log *slog.Logger) {
	if log != nil {
		c.log = log
	}
}

// Address returns the contract address.
func (c *OnchainRegistryClient) Address() common.Address {
	return c.address
}

// Append adds a record pointer to the owner's ledger.
func (c *OnchainRegistryClient) Append(ctx context.Context, owner interfaces.Address, id interfaces.ContentID, fileType string, category interfaces.Category) (interfaces.MedicalRecordEntry, error) {
	if err := category.Validate(); err != nil {
		return interfaces.MedicalRecordEntry{}, err
	}

	if _, err := c.transact(ctx, "addRecord", common.Address(owner), [32]byte(id), fileType, string(category)); err != nil {
		return interfaces.MedicalRecordEntry{}, err
	}

	return interfaces.MedicalRecordEntry{
		ContentID: id,
		FileType:  fileType,
		Category:  category,
		Uploader:  interfaces.Address(c.auth.From),
		Timestamp: time.Now().UTC(),
	}, nil
}

// List returns the owner's records in append order.
func (c *OnchainRegistryClient) List(ctx context.Context, owner interfaces.Address) ([]interfaces.MedicalRecordEntry, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getRecords", common.Address(owner))
	if err != nil {
		return nil, fmt.Errorf("getRecords: %w", err)
	}

	records := *abi.ConvertType(out[0], new([]recordTuple)).(*[]recordTuple)
	entries := make([]interfaces.MedicalRecordEntry, 0, len(records))
	for _, r := range records {
		var ts time.Time
		if r.Timestamp != nil {
			ts = time.Unix(r.Timestamp.Int64(), 0).UTC()
		}
		entries = append(entries, interfaces.MedicalRecordEntry{
			ContentID: interfaces.ContentID(r.ContentId),
			FileType:  r.FileType,
			Category:  interfaces.Category(r.Category),
			Uploader:  interfaces.Address(r.Uploader),
			Timestamp: ts,
		})
	}
	return entries, nil
}

// Check reports whether requester holds a grant from owner.
func (c *OnchainRegistryClient) Check(ctx context.Context, owner, requester interfaces.Address) (bool, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasAccess", common.Address(owner), common.Address(requester))
	if err != nil {
		return false, fmt.Errorf("hasAccess: %w", err)
	}

	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// RecordAccess emits an AccessRecorded event on chain.
func (c *OnchainRegistryClient) RecordAccess(ctx context.Context, owner, requester interfaces.Address) error {
	_, err := c.transact(ctx, "recordAccess", common.Address(owner), common.Address(requester))
	return err
}

// Grant gives grantee read access to owner's records. The transactor must be the owner.
func (c *OnchainRegistryClient) Grant(ctx context.Context, owner, grantee interfaces.Address) error {
	_, err := c.transact(ctx, "grantAccess", common.Address(owner), common.Address(grantee))
	return err
}

// Revoke removes a grant. The transactor must be the owner.
func (c *OnchainRegistryClient) Revoke(ctx context.Context, owner, grantee interfaces.Address) error {
	_, err := c.transact(ctx, "revokeAccess", common.Address(owner), common.Address(grantee))
	return err
}

// AccessHistory collects AccessRecorded events for owner.
func (c *OnchainRegistryClient) AccessHistory(ctx context.Context, owner interfaces.Address) ([]interfaces.AccessEvent, error) {
	logs, sub, err := c.contract.FilterLogs(&bind.FilterOpts{Context: ctx}, "AccessRecorded", []interface{}{common.Address(owner)})
	if err != nil {
		return nil, fmt.Errorf("filter AccessRecorded: %w", err)
	}
	defer sub.Unsubscribe()

	var events []interfaces.AccessEvent
	handle := func(log types.Log) error {
		var ev accessRecorded
		if err := c.contract.UnpackLog(&ev, "AccessRecorded", log); err != nil {
			return fmt.Errorf("unpack AccessRecorded: %w", err)
		}
		var ts time.Time
		if ev.Timestamp != nil {
			ts = time.Unix(ev.Timestamp.Int64(), 0).UTC()
		}
		events = append(events, interfaces.AccessEvent{
			ID:        fmt.Sprintf("%s-%d", log.TxHash.Hex(), log.Index),
			Owner:     interfaces.Address(ev.Owner),
			Requester: interfaces.Address(ev.Requester),
			Timestamp: ts,
		})
		return nil
	}

	for {
		select {
		case log := <-logs:
			if err := handle(log); err != nil {
				return nil, err
			}
		case err := <-sub.Err():
			// the subscription ends once every log is queued; drain what is left
			for {
				select {
				case log := <-logs:
					if err := handle(log); err != nil {
						return nil, err
					}
				default:
					return events, err
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *OnchainRegistryClient) transact(ctx context.Context, method string, params ...interface{}) (*types.Transaction, error) {
	if c.auth == nil {
		return nil, ErrNoTransactOpts
	}

	opts := *c.auth
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	c.log.Debug("Sent registry transaction",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()))

	if c.backend == nil {
		return tx, nil
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return tx, fmt.Errorf("%s: waiting for receipt: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx, fmt.Errorf("%s: transaction %s reverted", method, tx.Hash().Hex())
	}
	return tx, nil
}

// RegistryFactory creates OnchainRegistryClient instances for different contract addresses.
type RegistryFactory struct {
	client  bind.ContractBackend
	backend bind.DeployBackend
	auth    *bind.TransactOpts
	log     *slog.Logger
}

// NewRegistryFactory creates a new factory for registry clients. auth may be
// nil for read-only clients.
func NewRegistryFactory(client bind.ContractBackend, backend bind.DeployBackend, auth *bind.TransactOpts, log *slog.Logger) *RegistryFactory {
	return &RegistryFactory{client: client, backend: backend, auth: auth, log: log}
}

// RegistryFor returns a client for the specified contract address.
func (f *RegistryFactory) RegistryFor(contract interfaces.Address) (interfaces.Registry, error) {
	client, err := NewOnchainRegistryClient(f.client, f.backend, common.Address(contract))
	if err != nil {
		return nil, err
	}
	client.SetTransactOpts(f.auth)
	client.SetLogger(f.log)
	return client, nil
}
