package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptInfo is the token transfer detail recovered from a transaction
// receipt. Every field except Timestamp and Initiator is best effort.
type ReceiptInfo struct {
	Timestamp   time.Time        `json:"timestamp"`
	Initiator   string           `json:"initiator,omitempty"`
	Gas         *decimal.Decimal `json:"gas,omitempty"`
	Collection  string           `json:"collection,omitempty"`
	TokenID     string           `json:"token_id,omitempty"`
	TokenIDHex  string           `json:"token_id_hex,omitempty"`
	MetadataURI string           `json:"metadata_uri,omitempty"`
	Standard    Standard         `json:"standard,omitempty"`
	From        string           `json:"from,omitempty"`
	To          string           `json:"to,omitempty"`
}

// HasToken reports whether a transferred token was identified.
func (r ReceiptInfo) HasToken() bool {
	return r.Collection != "" && r.TokenID != ""
}
