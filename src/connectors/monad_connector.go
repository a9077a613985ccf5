// Settlement-chain client for Monad. Reads payment transactions, checks the
// hot-wallet MON balance, and sends compensating MON transfers.
package connectors

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// 21000 gas covers a plain value transfer.
const transferGasLimit = uint64(21000)

var weiPerMON = decimal.New(1, 18)

// PaymentLookup is the settlement-relevant view of one on-chain payment.
type PaymentLookup struct {
	Found    bool
	Reverted bool
	From     string
	To       string
	ValueMON decimal.Decimal
}

// MonadClient wraps a JSON-RPC connection to the settlement chain plus the
// service hot wallet used for refunds and cashouts.
type MonadClient struct {
	eth            *ethclient.Client
	chainID        *big.Int
	depositAddress common.Address
	explorerURL    string
	timeout        time.Duration

	key           *ecdsa.PrivateKey
	walletAddress common.Address
}

// NewMonadClient dials the RPC endpoint and loads the hot-wallet key when one
// is configured. A client without a key can verify payments and read
// balances but cannot send MON.
func NewMonadClient(config Config) (*MonadClient, error) {
	if config.DepositAddress == "" {
		return nil, errors.New("DEPOSIT_ADDRESS not set")
	}

	eth, err := ethclient.Dial(config.MonadRPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial settlement chain RPC: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.RPCTimeout)
	defer cancel()

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	client := &MonadClient{
		eth:            eth,
		chainID:        chainID,
		depositAddress: common.HexToAddress(config.DepositAddress),
		explorerURL:    config.MonadExplorerURL,
		timeout:        config.RPCTimeout,
	}

	if config.ServerPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(config.ServerPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid server private key: %w", err)
		}
		client.key = key
		client.walletAddress = crypto.PubkeyToAddress(key.PublicKey)

		logger.WithFields(map[string]interface{}{
			"component": "MonadClient",
			"wallet":    client.walletAddress.Hex(),
		}).Info("Settlement chain hot wallet loaded")
	}

	return client, nil
}

// DepositAddress is the collection address payments must be sent to.
func (c *MonadClient) DepositAddress() string {
	return c.depositAddress.Hex()
}

// ExplorerTxURL renders a human-readable link for a settlement-chain tx.
func (c *MonadClient) ExplorerTxURL(txHash string) string {
	return fmt.Sprintf("%s/tx/%s", c.explorerURL, txHash)
}

// LookupPayment fetches the receipt and body of a payment transaction.
// Found=false means the chain has not confirmed the transaction yet; the
// verifier turns that into its Pending/TimedOut outcome.
func (c *MonadClient) LookupPayment(ctx context.Context, txHash string) (*PaymentLookup, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	hash := common.HexToHash(txHash)

	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return &PaymentLookup{Found: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipt lookup failed: %w", err)
	}

	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("transaction lookup failed: %w", err)
	}
	if pending {
		return &PaymentLookup{Found: false}, nil
	}

	lookup := &PaymentLookup{
		Found:    true,
		Reverted: receipt.Status != types.ReceiptStatusSuccessful,
		ValueMON: decimal.NewFromBigInt(tx.Value(), 0).Div(weiPerMON),
	}

	if to := tx.To(); to != nil {
		lookup.To = to.Hex()
	}

	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover payment sender: %w", err)
	}
	lookup.From = from.Hex()

	return lookup, nil
}

// ServerBalanceMON reads the hot wallet's MON balance. Errors when no key is
// loaded or the RPC is unreachable; callers treat that as fail-closed.
func (c *MonadClient) ServerBalanceMON(ctx context.Context) (decimal.Decimal, error) {
	if c.key == nil {
		return decimal.Zero, errors.New("no server wallet key loaded")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	balance, err := c.eth.BalanceAt(ctx, c.walletAddress, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance check failed: %w", err)
	}

	return decimal.NewFromBigInt(balance, 0).Div(weiPerMON), nil
}

// SendMON transfers MON from the hot wallet and waits for the receipt.
// The nonce is read from pending state so concurrent payouts don't collide.
func (c *MonadClient) SendMON(ctx context.Context, toAddress string, amountMON decimal.Decimal) (string, error) {
	if c.key == nil {
		return "", errors.New("no server wallet key loaded")
	}
	if amountMON.LessThanOrEqual(decimal.Zero) {
		return "", errors.New("transfer amount must be positive")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(callCtx, c.walletAddress)
	if err != nil {
		return "", fmt.Errorf("nonce lookup failed: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(callCtx)
	if err != nil {
		return "", fmt.Errorf("gas price lookup failed: %w", err)
	}

	to := common.HexToAddress(toAddress)
	value := amountMON.Mul(weiPerMON).BigInt()

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer: %w", err)
	}

	if err := c.eth.SendTransaction(callCtx, signed); err != nil {
		return "", fmt.Errorf("failed to broadcast transfer: %w", err)
	}

	txHash := signed.Hash()

	logger.WithFields(map[string]interface{}{
		"component": "MonadClient",
		"to":        toAddress,
		"amount":    amountMON,
		"tx":        txHash.Hex(),
	}).Info("MON transfer broadcast")

	receipt, err := c.waitMined(ctx, txHash)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", errors.New("MON transfer reverted on-chain")
	}

	return txHash.Hex(), nil
}

func (c *MonadClient) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(30 * time.Second)

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt poll failed: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, errors.New("MON transfer not mined before deadline")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
