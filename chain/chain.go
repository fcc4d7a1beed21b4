// Package chain talks to the prize pool contract on Base.
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ts4z/cyclepot/model"
	"github.com/ts4z/cyclepot/payout"
)

const DefaultGasLimit = 500000

var (
	ErrKeystoreMissing = errors.New("keystore configuration missing")
	ErrBadAddress      = errors.New("not a hex address")
	ErrTxReverted      = payout.ErrTransactionReverted
)

const prizePoolABI = `[
	{"type":"function","name":"allocateFunds","stateMutability":"nonpayable",
	 "inputs":[{"name":"feePercentage","type":"uint256"},{"name":"winners","type":"address[]"},{"name":"percentages","type":"uint256[]"}],
	 "outputs":[]},
	{"type":"function","name":"fundsAllocated","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"totalPool","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"rewards","stateMutability":"view","inputs":[{"name":"","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

// Backend is the RPC surface the contract binding needs.  *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type Config struct {
	Backend         Backend
	ContractAddress string
	ChainID         int64
	GasLimit        uint64

	// Signer is required only for AllocateFunds.
	Signer *ecdsa.PrivateKey
}

// Contract is a payout.PrizePool backed by the deployed contract.
type Contract struct {
	backend  Backend
	address  common.Address
	bound    *bind.BoundContract
	chainID  *big.Int
	gasLimit uint64
	signer   *ecdsa.PrivateKey
}

func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(prizePoolABI))
}

// ParseAddress checks and converts a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	return common.HexToAddress(s), nil
}

// DecryptKeystore unlocks a base64-encoded keystore JSON file.
func DecryptKeystore(base64JSON, password string) (*ecdsa.PrivateKey, error) {
	if base64JSON == "" || password == "" {
		return nil, ErrKeystoreMissing
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64JSON))
	if err != nil {
		return nil, fmt.Errorf("keystore is not base64: %w", err)
	}
	key, err := keystore.DecryptKey(raw, password)
	if err != nil {
		return nil, fmt.Errorf("can't decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

// Dial connects to rpcURL and binds the contract.
func Dial(ctx context.Context, rpcURL string, c Config) (*Contract, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("can't dial %s: %w", rpcURL, err)
	}
	c.Backend = client
	return New(c)
}

func New(c Config) (*Contract, error) {
	if c.Backend == nil {
		return nil, errors.New("chain: no backend")
	}
	address, err := ParseAddress(c.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, err
	}
	gasLimit := c.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	if c.Signer != nil {
		slog.Info("payout signer loaded", "address", crypto.PubkeyToAddress(c.Signer.PublicKey).Hex())
	}
	return &Contract{
		backend:  c.Backend,
		address:  address,
		bound:    bind.NewBoundContract(address, parsed, c.Backend, c.Backend, c.Backend),
		chainID:  big.NewInt(c.ChainID),
		gasLimit: gasLimit,
		signer:   c.Signer,
	}, nil
}

func (c *Contract) Address() string {
	return c.address.Hex()
}

func (c *Contract) call(ctx context.Context, method string, args ...any) (any, error) {
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected one result, got %d", method, len(out))
	}
	return out[0], nil
}

func (c *Contract) callBigInt(ctx context.Context, method string, args ...any) (*big.Int, error) {
	v, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", method, v)
	}
	return n, nil
}

func (c *Contract) FundsAllocated(ctx context.Context) (bool, error) {
	v, err := c.call(ctx, "fundsAllocated")
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("fundsAllocated: unexpected result type %T", v)
	}
	return b, nil
}

func (c *Contract) TotalPool(ctx context.Context) (*big.Int, error) {
	return c.callBigInt(ctx, "totalPool")
}

// RewardOf is the unclaimed reward held for address, in USDC base units.
func (c *Contract) RewardOf(ctx context.Context, address string) (*big.Int, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return c.callBigInt(ctx, "rewards", addr)
}

// AllocationArgs converts shares to the contract's argument types.
func AllocationArgs(feeBasisPoints int, shares []model.WinnerShare) (*big.Int, []common.Address, []*big.Int, error) {
	addrs := make([]common.Address, len(shares))
	bps := make([]*big.Int, len(shares))
	for i, s := range shares {
		a, err := ParseAddress(s.Address)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("winner %d: %w", i+1, err)
		}
		addrs[i] = a
		bps[i] = big.NewInt(int64(s.PercentageBasisPoints))
	}
	return big.NewInt(int64(feeBasisPoints)), addrs, bps, nil
}

// AllocateFunds sends allocateFunds and waits for it to be mined.  The
// context bounds both.
func (c *Contract) AllocateFunds(ctx context.Context, feeBasisPoints int, shares []model.WinnerShare) (string, error) {
	if c.signer == nil {
		return "", ErrKeystoreMissing
	}
	fee, addrs, bps, err := AllocationArgs(feeBasisPoints, shares)
	if err != nil {
		return "", err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.signer, c.chainID)
	if err != nil {
		return "", err
	}
	opts.Context = ctx
	opts.GasLimit = c.gasLimit

	tx, err := c.bound.Transact(opts, "allocateFunds", fee, addrs, bps)
	if err != nil {
		return "", fmt.Errorf("allocateFunds: %w", err)
	}
	hash := tx.Hash().Hex()
	slog.Info("allocation transaction sent", "tx", hash, "winners", len(addrs))

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return hash, fmt.Errorf("waiting for %s: %w", hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%w: %s in block %v", ErrTxReverted, hash, receipt.BlockNumber)
	}
	slog.Info("allocation transaction confirmed", "tx", hash, "block", receipt.BlockNumber, "gas", receipt.GasUsed)
	return hash, nil
}
