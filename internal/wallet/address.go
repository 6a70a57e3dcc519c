package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/pkg/evmrpc"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateAddress checks that addr is a well-formed destination on family.
func ValidateAddress(family domain.ChainFamily, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("%w: empty address", domain.ErrInvalidDestination)
	}
	switch family {
	case domain.ChainEVM:
		if err := evmrpc.ValidateAddress(addr); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidDestination, err)
		}
	case domain.ChainSolana:
		if len(addr) < 32 || len(addr) > 44 {
			return fmt.Errorf("%w: %q has invalid length", domain.ErrInvalidDestination, addr)
		}
		raw, err := decodeBase58(addr)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidDestination, err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("%w: %q decodes to %d bytes, want 32", domain.ErrInvalidDestination, addr, len(raw))
		}
	default:
		return fmt.Errorf("%w: unknown chain family %q", domain.ErrInvalidDestination, family)
	}
	return nil
}

// SameAddress compares addresses the way family does: EVM hex is case-insensitive.
func SameAddress(family domain.ChainFamily, a, b string) bool {
	if family == domain.ChainEVM {
		return evmrpc.SameAddress(a, b)
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// CanonicalProof checks that proof is a transaction id on family and returns the
// form it is recorded under: lowercase hex for EVM hashes, base58 as-is for Solana
// signatures.
func CanonicalProof(family domain.ChainFamily, proof string) (string, error) {
	proof = strings.TrimSpace(proof)
	switch family {
	case domain.ChainEVM:
		hash, err := evmrpc.NormalizeTxHash(proof)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrUnverifiedSettlement, err)
		}
		return hash, nil
	case domain.ChainSolana:
		if len(proof) < 64 || len(proof) > 88 {
			return "", fmt.Errorf("%w: %q is not a transaction signature", domain.ErrUnverifiedSettlement, proof)
		}
		raw, err := decodeBase58(proof)
		if err != nil || len(raw) != 64 {
			return "", fmt.Errorf("%w: %q is not a transaction signature", domain.ErrUnverifiedSettlement, proof)
		}
		return proof, nil
	default:
		return "", fmt.Errorf("%w: unknown chain family %q", domain.ErrUnsupportedAsset, family)
	}
}

func decodeBase58(s string) ([]byte, error) {
	n := new(big.Int)
	radix := big.NewInt(58)
	for _, c := range s {
		idx := strings.IndexRune(base58Alphabet, c)
		if idx < 0 {
			return nil, fmt.Errorf("%q contains non-base58 character %q", s, c)
		}
		n.Mul(n, radix)
		n.Add(n, big.NewInt(int64(idx)))
	}
	zeros := 0
	for zeros < len(s) && s[zeros] == '1' {
		zeros++
	}
	return append(make([]byte, zeros), n.Bytes()...), nil
}
