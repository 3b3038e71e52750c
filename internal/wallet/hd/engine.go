package hd

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"golang.org/x/crypto/pbkdf2"
)

// BIP44 path for EVM accounts: m/44'/60'/0'/0/{index}
const (
	purposeIndex  = bip32.FirstHardenedChild + 44
	coinTypeIndex = bip32.FirstHardenedChild + 60
	accountIndex  = bip32.FirstHardenedChild + 0
	externalChain = uint32(0)
)

const (
	// BIP39: seed = PBKDF2(mnemonic, "mnemonic"+password, 2048, 64, SHA512)
	pbkdf2Iterations = 2048
	pbkdf2KeyLength  = 64
)

// ValidateMnemonic performs a shape check on a BIP39 phrase. Full wordlist
// validation is left to the wallet owner; a wrong word still derives a valid
// (but different) key. For the faucet mnemonic the faucet-address
// cross-check catches this at startup; the hot-wallet mnemonic has no such
// cross-check.
func ValidateMnemonic(mnemonic string) error {
	words := strings.Fields(mnemonic)
	switch len(words) {
	case 12, 15, 18, 21, 24:
		return nil
	default:
		return errors.Errorf("mnemonic must contain 12, 15, 18, 21 or 24 words, got %d", len(words))
	}
}

// Seed converts a mnemonic to a BIP39 seed with an empty passphrase.
func Seed(mnemonic string) []byte {
	return pbkdf2.Key(
		[]byte(mnemonic),
		[]byte("mnemonic"),
		pbkdf2Iterations,
		pbkdf2KeyLength,
		sha512.New,
	)
}

// DeriveKey derives the ECDSA private key at m/44'/60'/0'/0/{index}.
func DeriveKey(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(Seed(mnemonic))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	key := masterKey
	for _, childIndex := range []uint32{purposeIndex, coinTypeIndex, accountIndex, externalChain, index} {
		key, err = key.NewChildKey(childIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", childIndex)
		}
	}

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert derived key to ECDSA")
	}

	return privateKey, nil
}

// DeriveAddress derives the EVM address at m/44'/60'/0'/0/{index}.
func DeriveAddress(mnemonic string, index uint32) (common.Address, error) {
	privateKey, err := DeriveKey(mnemonic, index)
	if err != nil {
		return common.Address{}, err
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return common.Address{}, errors.New("failed to cast public key to ECDSA")
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}

// IndexForAccount maps an opaque account id to its derivation index: the
// big-endian uint32 formed by the first 4 bytes of SHA-256 over the id.
// Distinct ids may collide; the store rejects registration when the derived
// address is already bound to another account.
func IndexForAccount(accountID string) uint32 {
	sum := sha256.Sum256([]byte(accountID))
	return binary.BigEndian.Uint32(sum[:4])
}
