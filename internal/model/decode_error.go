package model

import "github.com/ethereum/go-ethereum/core/types"

// DecodeError records a listener failure for a contract log.
type DecodeError struct {
	Marketplace Marketplace `json:"marketplace"`
	BlockNumber uint64      `json:"block_number"`
	TxHash      string      `json:"tx_hash"`
	LogIndex    uint64      `json:"log_index"`
	Address     string      `json:"address"`
	Topic0      string      `json:"topic0"`
	Error       string      `json:"error"`
}

// DecodeErrorFromLog builds a DecodeError for log.
func DecodeErrorFromLog(marketplace Marketplace, log types.Log, err error) DecodeError {
	topic0 := ""
	if len(log.Topics) > 0 {
		topic0 = log.Topics[0].Hex()
	}
	return DecodeError{
		Marketplace: marketplace,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Address:     log.Address.Hex(),
		Topic0:      topic0,
		Error:       err.Error(),
	}
}
