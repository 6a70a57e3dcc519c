package domain

import "strings"

// ChainFamily classifies a wallet/ledger technology that needs its own provider integration.
type ChainFamily string

const (
	ChainEVM    ChainFamily = "evm"
	ChainSolana ChainFamily = "solana"
)

// ParseChainFamily normalizes user input such as "EVM" or " solana ".
func ParseChainFamily(raw string) (ChainFamily, bool) {
	switch ChainFamily(strings.ToLower(strings.TrimSpace(raw))) {
	case ChainEVM, "ethereum", "eth":
		return ChainEVM, true
	case ChainSolana, "sol":
		return ChainSolana, true
	default:
		return "", false
	}
}

// AssetKind selects the payment rail variant.
type AssetKind string

const (
	AssetNative AssetKind = "native"
	AssetToken  AssetKind = "token"
)

// FiatAsset tags card donations, which are recorded at face value.
const FiatAsset = "USD"

// Asset is one row of the supported-asset table.
type Asset struct {
	Symbol          string      `yaml:"symbol" json:"symbol"`
	Name            string      `yaml:"name" json:"name"`
	Family          ChainFamily `yaml:"family" json:"family"`
	Kind            AssetKind   `yaml:"kind" json:"kind"`
	Decimals        int32       `yaml:"decimals" json:"decimals"`
	ContractAddress string      `yaml:"contract_address,omitempty" json:"contract_address,omitempty"`
	PriceID         string      `yaml:"price_id" json:"price_id"`
	DefaultPrice    string      `yaml:"default_price" json:"default_price"`
	LogoURL         string      `yaml:"logo_url,omitempty" json:"logo_url,omitempty"`
}

// IsNative reports whether the asset is the chain's base currency.
func (a Asset) IsNative() bool {
	return a.Kind == AssetNative
}
