package evmrpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var (
	transferSelector  = Selector("transfer(address,uint256)")
	balanceOfSelector = Selector("balanceOf(address)")
)

// Keccak256 is the legacy (pre-NIST) Keccak used throughout Ethereum.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Selector returns the 4-byte function selector for a canonical signature.
func Selector(signature string) []byte {
	return Keccak256([]byte(signature))[:4]
}

// TransferCalldata encodes an ERC-20 transfer(address,uint256) call.
func TransferCalldata(to string, amount *big.Int) (string, error) {
	addr, err := addressBytes(to)
	if err != nil {
		return "", err
	}
	word, err := uint256Word(amount)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, 4+64)
	out = append(out, transferSelector...)
	out = append(out, leftPad(addr)...)
	out = append(out, word...)
	return "0x" + hex.EncodeToString(out), nil
}

// BalanceOfCalldata encodes an ERC-20 balanceOf(address) call.
func BalanceOfCalldata(owner string) (string, error) {
	addr, err := addressBytes(owner)
	if err != nil {
		return "", err
	}
	out := append(append([]byte{}, balanceOfSelector...), leftPad(addr)...)
	return "0x" + hex.EncodeToString(out), nil
}

// DecodeTransferCalldata extracts the recipient and amount from transfer calldata.
func DecodeTransferCalldata(input string) (string, *big.Int, bool) {
	raw, err := decodeHex(input)
	if err != nil || len(raw) != 4+64 {
		return "", nil, false
	}
	if hex.EncodeToString(raw[:4]) != hex.EncodeToString(transferSelector) {
		return "", nil, false
	}
	addrWord := raw[4:36]
	for _, b := range addrWord[:12] {
		if b != 0 {
			return "", nil, false
		}
	}
	to := "0x" + hex.EncodeToString(addrWord[12:])
	amount := new(big.Int).SetBytes(raw[36:68])
	return to, amount, true
}

// EncodeQuantity renders a JSON-RPC quantity ("0x0" for zero, no leading zeros).
func EncodeQuantity(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// ParseQuantity decodes a JSON-RPC quantity or a 32-byte eth_call result.
func ParseQuantity(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("quantity %q lacks 0x prefix", raw)
	}
	s = s[2:]
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("quantity %q is not hex", raw)
	}
	return v, nil
}

func uint256Word(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, errors.New("uint256 must be non-negative")
	}
	if v.Cmp(maxUint256) > 0 {
		return nil, errors.New("value overflows uint256")
	}
	word := make([]byte, 32)
	v.FillBytes(word)
	return word, nil
}

func addressBytes(addr string) ([]byte, error) {
	if !IsHexAddress(addr) {
		return nil, fmt.Errorf("%q is not a hex address", addr)
	}
	return hex.DecodeString(addr[2:])
}

func leftPad(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
