// Package types holds wire-level transaction types used by
// pkg/contractclient.
package types

// TxType selects the transaction envelope a ContractClient.Send call builds.
type TxType int

const (
	// Standard lets the client pick legacy or EIP-1559 based on what the
	// provider's fee data returns.
	Standard TxType = iota
	// Legacy forces a type-0 transaction with a flat gasPrice.
	Legacy
	// DynamicFee forces a type-2 (EIP-1559) transaction.
	DynamicFee
)

func (t TxType) String() string {
	switch t {
	case Legacy:
		return "legacy"
	case DynamicFee:
		return "dynamic-fee"
	default:
		return "standard"
	}
}

// TxReceipt is the client-facing, JSON/string-friendly receipt shape.
// Numeric fields are kept as decimal/hex strings so callers can round-trip
// them through JSON without precision loss: EffectiveGasPrice and GasUsed
// can be parsed back into *big.Int with SetString.
type TxReceipt struct {
	TxHash            string `json:"transactionHash"`
	Status            uint64 `json:"status"`
	BlockNumber       uint64 `json:"blockNumber"`
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
	ContractAddress   string `json:"contractAddress,omitempty"`
	Logs              []Log  `json:"logs,omitempty"`
}

// Log is a decoded or raw event log entry attached to a receipt.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// FeeData is a JSON-friendly network fee snapshot (spec §4.6). The gas
// oracle and the strategies use gasoracle.FeeData, not this type.
type FeeData struct {
	GasPrice             string `json:"gasPrice,omitempty"`             // legacy, wei
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`         // EIP-1559, wei
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"` // EIP-1559, wei
	SupportsEIP1559      bool   `json:"supportsEip1559"`
}
