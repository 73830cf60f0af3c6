// Package contractclient wraps a go-ethereum client bound to one contract
// address + ABI, exposing the read/write surface the strategies and the
// provider pool need: Call, Send, receipt parsing and transaction
// decoding.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/duneflow/arbengine/pkg/types"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of go-ethereum client behavior this package needs.
// Both *ethclient.Client and the client of go-ethereum's ethclient/simulated
// Backend satisfy it, which is what lets contractclient_test.go exercise
// Call/Send against an in-process chain instead of a live RPC endpoint.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *ethtypes.Transaction, isPending bool, err error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// DecodedTransaction is the JSON-friendly rendering of a decoded call.
type DecodedTransaction struct {
	MethodName string                 `json:"methodName"`
	Parameter  map[string]interface{} `json:"parameter"`
}

// decodedEvent mirrors the {"EventName":..., "Parameter":...} shape a
// caller parses back out of ParseReceipt's JSON.
type decodedEvent struct {
	EventName string                 `json:"EventName"`
	Parameter map[string]interface{} `json:"Parameter"`
}

// ContractClient is bound to one contract address and ABI. Callers such as
// internal/tokens build one per contract over a provider-pool client.
type ContractClient interface {
	ContractAddress() common.Address
	Abi() abi.ABI
	Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error)
	Send(txType types.TxType, gasLimit *uint64, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)
	TransactionData(txHash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*DecodedTransaction, error)
	ParseReceipt(receipt *types.TxReceipt) (string, error)
}

type client struct {
	backend Backend
	address common.Address
	abi     abi.ABI
}

// NewContractClient binds a backend connection to one contract's address
// and ABI.
func NewContractClient(backend Backend, address common.Address, contractABI abi.ABI) ContractClient {
	return &client{backend: backend, address: address, abi: contractABI}
}

func (c *client) ContractAddress() common.Address { return c.address }

func (c *client) Abi() abi.ABI { return c.abi }

func (c *client) Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereumCallMsg(from, &c.address, data)
	out, err := c.backend.CallContract(context.Background(), msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	results, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s result: %w", method, err)
	}
	return results, nil
}

func (c *client) Send(txType types.TxType, gasLimit *uint64, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx := context.Background()
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch chain id: %w", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, *from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}

	limit := uint64(0)
	if gasLimit != nil {
		limit = *gasLimit
	} else {
		est, err := c.backend.EstimateGas(ctx, ethereumCallMsg(from, &c.address, data))
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
		limit = est
	}

	tx, err := c.buildTx(ctx, txType, nonce, limit, data)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("broadcast tx: %w", err)
	}
	return signed.Hash(), nil
}

func (c *client) buildTx(ctx context.Context, txType types.TxType, nonce, gasLimit uint64, data []byte) (*ethtypes.Transaction, error) {
	useDynamic := txType == types.DynamicFee
	if txType == types.Standard {
		if _, err := c.backend.SuggestGasTipCap(ctx); err == nil {
			useDynamic = true
		}
	}

	if useDynamic {
		tip, err := c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest tip cap: %w", err)
		}
		head, err := c.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch head: %w", err)
		}
		baseFee := head.BaseFee
		if baseFee == nil {
			baseFee = big.NewInt(0)
		}
		feeCap := new(big.Int).Add(baseFee, baseFee)
		feeCap.Add(feeCap, tip)
		return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			Nonce:     nonce,
			To:        &c.address,
			Gas:       gasLimit,
			GasFeeCap: feeCap,
			GasTipCap: tip,
			Data:      data,
		}), nil
	}

	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.address,
		Gas:      gasLimit,
		GasPrice: price,
		Data:     data,
	}), nil
}

func (c *client) TransactionData(txHash common.Hash) ([]byte, error) {
	tx, _, err := c.backend.TransactionByHash(context.Background(), txHash)
	if err != nil {
		return nil, fmt.Errorf("fetch tx %s: %w", txHash.Hex(), err)
	}
	return tx.Data(), nil
}

func (c *client) DecodeTransaction(data []byte) (*DecodedTransaction, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("tx data too short to contain a method selector")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("lookup method selector: %w", err)
	}

	args := map[string]interface{}{}
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("unpack args for %s: %w", method.Name, err)
	}

	return &DecodedTransaction{MethodName: method.Name, Parameter: args}, nil
}

// ParseReceipt decodes every log in receipt that matches this contract's ABI
// into a JSON array of {"EventName":..., "Parameter":...} objects, the shape
// a caller scans to find e.g. a Transfer event.
func (c *client) ParseReceipt(receipt *types.TxReceipt) (string, error) {
	events := make([]decodedEvent, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 {
			continue
		}
		ev, err := c.abi.EventByID(common.HexToHash(l.Topics[0]))
		if err != nil {
			continue // log belongs to a different contract/ABI; skip, don't fail the whole receipt
		}

		params := map[string]interface{}{}
		dataBytes := common.FromHex(l.Data)
		if err := ev.Inputs.UnpackIntoMap(params, dataBytes); err != nil {
			continue
		}
		events = append(events, decodedEvent{EventName: ev.Name, Parameter: params})
	}

	out, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshal parsed events: %w", err)
	}
	return string(out), nil
}

func ethereumCallMsg(from, to *common.Address, data []byte) ethereum.CallMsg {
	msg := ethereum.CallMsg{To: to, Data: data}
	if from != nil {
		msg.From = *from
	}
	return msg
}
