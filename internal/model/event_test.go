package model

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanonicalEventJSONKeepsPayloadKind(t *testing.T) {
	ends := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	original := NewEvent(EventOffer, MarketplaceLooksRare, "1", OrderPayload{
		Price:          decimal.RequireFromString("1.25"),
		EndsAt:         &ends,
		IsHighestOffer: true,
	})
	original.Collection = "0xabc"

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded CanonicalEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	order, ok := decoded.Order()
	if !ok {
		t.Fatalf("payload type mismatch: %T", decoded.Payload)
	}
	if !order.Price.Equal(decimal.RequireFromString("1.25")) || !order.IsHighestOffer {
		t.Fatalf("order mismatch: %+v", order)
	}
	if order.EndsAt == nil || !order.EndsAt.Equal(ends) {
		t.Fatalf("ends_at mismatch: %v", order.EndsAt)
	}
	if decoded.ID != original.ID {
		t.Fatalf("id mismatch")
	}
}

func TestCanonicalEventJSONCancelHasNoPrice(t *testing.T) {
	ev := NewEvent(EventCancelOrder, MarketplaceX2Y2, "1", CancelPayload{Maker: "0x1"})

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["valuation"]; ok {
		t.Fatalf("cancel should not carry valuation")
	}
	payload, _ := decoded["payload"].(map[string]interface{})
	if _, ok := payload["price"]; ok {
		t.Fatalf("cancel payload should not carry price")
	}
}

func TestWeiConversion(t *testing.T) {
	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got := FromWei(wei); !got.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("from wei: %s", got)
	}
	if got := ToWei(decimal.RequireFromString("0.000000000000000001")); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("to wei: %s", got)
	}
}

func TestWithReceiptKeepsProducerFields(t *testing.T) {
	ev := NewEvent(EventAcceptAsk, MarketplaceFoundation, "1", TradePayload{Price: decimal.NewFromInt(1)})
	ev.Collection = "0xproducer"

	gas := decimal.RequireFromString("0.01")
	ts := time.Unix(1700000000, 0).UTC()
	out := ev.WithReceipt(ReceiptInfo{
		Timestamp:  ts,
		Initiator:  "0xsender",
		Collection: "0xreceipt",
		TokenID:    "7",
		Standard:   StandardERC721,
		Gas:        &gas,
	})

	if out.Collection != "0xproducer" {
		t.Fatalf("collection overwritten: %s", out.Collection)
	}
	if out.TokenID != "7" || out.Standard != StandardERC721 || !out.Timestamp.Equal(ts) {
		t.Fatalf("receipt fields not applied: %+v", out)
	}
	trade := out.Payload.(TradePayload)
	if trade.Gas == nil || !trade.Gas.Equal(gas) {
		t.Fatalf("gas not applied")
	}
}

func TestTokenCollection(t *testing.T) {
	if got := TokenCollection("0xABC/12"); got != "0xabc" {
		t.Fatalf("collection mismatch: %s", got)
	}
	if got := TokenCollection("0xdef"); got != "0xdef" {
		t.Fatalf("collection without token: %s", got)
	}
}
