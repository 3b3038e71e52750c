package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = common.BytesToHash(crypto.Keccak256([]byte("Transfer(address,address,uint256)")))

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PackTransfer encodes transfer(to, amount) call data.
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack transfer call")
	}
	return data, nil
}

// PackBalanceOf encodes balanceOf(account) call data.
func PackBalanceOf(account common.Address) ([]byte, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack balanceOf call")
	}
	return data, nil
}

func unpackString(method string, output []byte) (string, error) {
	values, err := erc20ABI.Unpack(method, output)
	if err != nil {
		return "", errors.Wrapf(err, "failed to unpack %s result", method)
	}
	value, ok := values[0].(string)
	if !ok {
		return "", errors.Errorf("%s returned a non-string value", method)
	}
	return value, nil
}

func unpackUint8(method string, output []byte) (uint8, error) {
	values, err := erc20ABI.Unpack(method, output)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to unpack %s result", method)
	}
	value, ok := values[0].(uint8)
	if !ok {
		return 0, errors.Errorf("%s returned a non-uint8 value", method)
	}
	return value, nil
}
