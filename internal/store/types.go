package store

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TokenKind identifies what a deposit is denominated in: the native currency
// or an ERC20 contract (lower-case hex address).
type TokenKind string

// KindNative marks a native currency deposit.
const KindNative TokenKind = "native"

// TokenKindFor builds the kind for an ERC20 contract address.
func TokenKindFor(tokenAddress string) TokenKind {
	return TokenKind(strings.ToLower(tokenAddress))
}

// IsNative reports whether the kind is the native currency.
func (k TokenKind) IsNative() bool {
	return k == KindNative
}

// DepositState is the lifecycle state of a deposit. The only legal
// progression is detected -> swept.
type DepositState string

const (
	StateDetected DepositState = "detected"
	StateSwept    DepositState = "swept"
)

// DepositKey is the composite identity of an inbound transfer.
type DepositKey struct {
	TxHash   string    `json:"tx_hash"`
	LogIndex uint      `json:"log_index"`
	Kind     TokenKind `json:"kind"`
}

// String renders the key as it appears in webhook payloads for token sweeps:
// "<tx_hash>:<log_index>".
func (k DepositKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.LogIndex)
}

// Account is one registered external account with its managed address.
type Account struct {
	ID              string    `json:"id"`
	WebhookURL      string    `json:"webhook_url"`
	Address         string    `json:"address"`
	DerivationIndex uint32    `json:"derivation_index"`
	CreatedAt       time.Time `json:"created_at"`
}

// Deposit is one recorded inbound transfer to a managed address.
type Deposit struct {
	Key        DepositKey   `json:"key"`
	AccountID  string       `json:"account_id"`
	Address    string       `json:"address"`
	Amount     string       `json:"amount"`
	State      DepositState `json:"state"`
	ObservedAt time.Time    `json:"observed_at"`
}

// AmountBig parses the base-unit amount.
func (d Deposit) AmountBig() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(d.Amount, 10)
	if !ok {
		return nil, errors.Errorf("invalid deposit amount %q", d.Amount)
	}
	return amount, nil
}

// TokenMeta is the cached metadata of an ERC20 contract.
type TokenMeta struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Name     string `json:"name"`
}

// RegisterResult reports the outcome of RegisterAccount.
type RegisterResult int

const (
	// RegisterCreated means all rows were written.
	RegisterCreated RegisterResult = iota
	// RegisterExists means the account id is already bound to the same address.
	RegisterExists
	// RegisterConflict means the address is bound to a different account.
	RegisterConflict
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotPending is returned by MarkSwept when the deposit is already terminal.
	ErrNotPending = errors.New("store: deposit is not pending")
	// ErrAddressConflict names an address already bound to a different
	// account id. RegisterAccount reports that case as RegisterConflict and
	// does not return this error.
	ErrAddressConflict = errors.New("store: address bound to another account")
)
