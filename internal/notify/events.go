package notify

import (
	"encoding/json"

	"github/chapool/hot-wallet/internal/store"
)

const (
	eventDepositDetected = "deposit_detected"
	eventDepositSwept    = "deposit_swept"

	tokenTypeNative = "native"
	tokenTypeERC20  = "erc20"
)

// payload is the webhook body. Amounts are decimal strings of unsigned
// integers so receivers never round through a float.
type payload struct {
	Event          string `json:"event"`
	AccountID      string `json:"account_id"`
	TxHash         string `json:"tx_hash,omitempty"`
	OriginalTxHash string `json:"original_tx_hash,omitempty"`
	Amount         string `json:"amount"`
	TokenType      string `json:"token_type"`
	TokenSymbol    string `json:"token_symbol,omitempty"`
	TokenAddress   string `json:"token_address,omitempty"`
}

func detectedPayload(deposit store.Deposit, meta store.TokenMeta) ([]byte, error) {
	body := payload{
		Event:     eventDepositDetected,
		AccountID: deposit.AccountID,
		TxHash:    deposit.Key.TxHash,
		Amount:    deposit.Amount,
		TokenType: tokenTypeNative,
	}
	if !deposit.Key.Kind.IsNative() {
		body.TokenType = tokenTypeERC20
		body.TokenSymbol = meta.Symbol
		body.TokenAddress = string(deposit.Key.Kind)
	}
	return json.Marshal(body)
}

func sweptPayload(deposit store.Deposit, meta store.TokenMeta) ([]byte, error) {
	body := payload{
		Event:          eventDepositSwept,
		AccountID:      deposit.AccountID,
		OriginalTxHash: deposit.Key.TxHash,
		Amount:         deposit.Amount,
		TokenType:      tokenTypeNative,
	}
	if !deposit.Key.Kind.IsNative() {
		// "<hash>:<log_index>" keeps the composite identity in the event.
		body.OriginalTxHash = deposit.Key.String()
		body.TokenType = tokenTypeERC20
		body.TokenSymbol = meta.Symbol
		body.TokenAddress = string(deposit.Key.Kind)
	}
	return json.Marshal(body)
}
