package registry

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github/chapool/hot-wallet/internal/store"
	"github/chapool/hot-wallet/internal/wallet/hd"
)

var (
	// ErrInvalidWebhookURL rejects registrations whose webhook is not an
	// absolute HTTPS URL.
	ErrInvalidWebhookURL = errors.New("registry: webhook url must be absolute https")
	// ErrAddressConflict means the deterministic index of this account id
	// derives an address already bound to a different account.
	ErrAddressConflict = errors.New("registry: derived address bound to another account")
	// ErrFaucetFailed wraps a funding failure; nothing was persisted.
	ErrFaucetFailed = errors.New("registry: faucet funding failed")
)

// Funder pre-funds a new address and returns the funding transaction hash.
type Funder interface {
	Fund(ctx context.Context, target common.Address) (common.Hash, error)
}

// Registration is the outcome of Register.
type Registration struct {
	AccountID string
	Address   string
	// FundingTx is nil when the account already existed.
	FundingTx *string
}

// Service implements account registration: deterministic address issuance,
// synchronous faucet funding, and atomic persistence. Funding happens before
// the store write so an address never exists unfunded; a funding failure
// surfaces as a registration failure and leaves the store untouched.
type Service struct {
	store    *store.Store
	mnemonic string
	faucet   Funder
}

// NewService creates the registry.
func NewService(st *store.Store, hotMnemonic string, faucet Funder) *Service {
	return &Service{
		store:    st,
		mnemonic: hotMnemonic,
		faucet:   faucet,
	}
}

// Register resolves or creates the account for accountID. Re-registration of
// an existing id returns the same address and overwrites the webhook URL;
// the address and derivation index never change.
func (s *Service) Register(ctx context.Context, accountID, webhookURL string) (Registration, error) {
	if accountID == "" {
		return Registration{}, errors.New("registry: account id must not be empty")
	}
	if err := validateWebhookURL(webhookURL); err != nil {
		return Registration{}, err
	}

	existing, err := s.store.GetAccount(accountID)
	if err == nil {
		if existing.WebhookURL != webhookURL {
			if err := s.store.UpdateWebhookURL(accountID, webhookURL); err != nil {
				return Registration{}, err
			}
			log.Info().
				Str("account_id", accountID).
				Msg("Re-registration updated webhook URL")
		}
		return Registration{AccountID: accountID, Address: existing.Address}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Registration{}, err
	}

	index := hd.IndexForAccount(accountID)
	address, err := hd.DeriveAddress(s.mnemonic, index)
	if err != nil {
		return Registration{}, errors.Wrap(err, "failed to derive deposit address")
	}

	if owner, bound, err := s.store.ResolveAddress(address.Hex()); err != nil {
		return Registration{}, err
	} else if bound && owner != accountID {
		log.Warn().
			Str("account_id", accountID).
			Str("address", address.Hex()).
			Str("owner", owner).
			Msg("Derivation index collision")
		return Registration{}, ErrAddressConflict
	}

	fundingTx, err := s.faucet.Fund(ctx, address)
	if err != nil {
		return Registration{}, errors.Wrapf(ErrFaucetFailed, "funding %s: %v", address.Hex(), err)
	}

	account := store.Account{
		ID:              accountID,
		WebhookURL:      webhookURL,
		Address:         strings.ToLower(address.Hex()),
		DerivationIndex: index,
		CreatedAt:       time.Now().UTC(),
	}

	result, err := s.store.RegisterAccount(account)
	if err != nil {
		return Registration{}, err
	}
	if result == store.RegisterConflict {
		// Lost a race with a colliding id between the check above and the
		// write; the store is unchanged.
		return Registration{}, ErrAddressConflict
	}

	log.Info().
		Str("account_id", accountID).
		Str("address", account.Address).
		Uint32("derivation_index", index).
		Str("funding_tx", fundingTx.Hex()).
		Msg("Account registered")

	funding := fundingTx.Hex()
	return Registration{
		AccountID: accountID,
		Address:   account.Address,
		FundingTx: &funding,
	}, nil
}

func validateWebhookURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || !parsed.IsAbs() || parsed.Scheme != "https" || parsed.Host == "" {
		return ErrInvalidWebhookURL
	}
	return nil
}
