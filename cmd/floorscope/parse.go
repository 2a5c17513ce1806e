package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func parseAddresses(inputs []string) ([]string, error) {
	addresses := make([]string, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, strings.ToLower(common.HexToAddress(input).Hex()))
	}
	return addresses, nil
}

func parseTxHash(input string) (common.Hash, error) {
	data, err := hexutil.Decode(strings.TrimSpace(input))
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid tx hash: %s", input)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid tx hash length: %s", input)
	}
	return common.BytesToHash(data), nil
}
