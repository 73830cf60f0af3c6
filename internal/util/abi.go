// Package util collects small, dependency-light helpers used by cmd/engine:
// ABI loading, wallet key material decryption, and big.Int convenience
// wrappers.
package util

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LoadABI reads a bare ABI JSON file (an array of ABI entries) from disk.
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi file %s: %w", path, err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(data)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi file %s: %w", path, err)
	}
	return parsed, nil
}

// hardhatArtifact is the subset of a Hardhat/Foundry build artifact we need.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABIFromHardhatArtifact reads a full Hardhat/Foundry artifact JSON file
// and extracts its "abi" field.
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var artifact hardhatArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if len(artifact.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("artifact %s has no abi field", path)
	}
	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse artifact abi %s: %w", path, err)
	}
	return parsed, nil
}

// Hex2Bytes decodes a 0x-prefixed or bare hex string into bytes.
func Hex2Bytes(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
