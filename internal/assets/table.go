// Package assets holds the supported-asset table: which symbols each chain family
// accepts, whether they move on the native or token rail, and their decimal precision.
package assets

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rapidfund/settlement-service/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed assets.yaml
var defaultTable []byte

// maxDecimals bounds atomic-unit conversion; no supported chain uses more than 18.
const maxDecimals = 36

type tableFile struct {
	Assets []domain.Asset `yaml:"assets"`
}

// Table is an immutable lookup of supported assets keyed by family and symbol.
type Table struct {
	bySymbol map[string]domain.Asset
	ordered  []domain.Asset
}

// Default returns the built-in table.
func Default() *Table {
	table, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("assets: embedded table is invalid: %v", err))
	}
	return table
}

// Load reads a table from path, falling back to the built-in table when path is empty.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset table: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML asset table.
func Parse(raw []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode asset table: %w", err)
	}
	if len(file.Assets) == 0 {
		return nil, fmt.Errorf("asset table is empty")
	}

	table := &Table{bySymbol: make(map[string]domain.Asset, len(file.Assets))}
	for _, asset := range file.Assets {
		asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
		family, ok := domain.ParseChainFamily(string(asset.Family))
		if !ok {
			return nil, fmt.Errorf("asset %s: unknown chain family %q", asset.Symbol, asset.Family)
		}
		asset.Family = family

		switch {
		case asset.Symbol == "":
			return nil, fmt.Errorf("asset without symbol")
		case asset.Decimals < 0 || asset.Decimals > maxDecimals:
			return nil, fmt.Errorf("asset %s: decimals %d out of range", asset.Symbol, asset.Decimals)
		case asset.Kind != domain.AssetNative && asset.Kind != domain.AssetToken:
			return nil, fmt.Errorf("asset %s: unknown kind %q", asset.Symbol, asset.Kind)
		case asset.Kind == domain.AssetToken && strings.TrimSpace(asset.ContractAddress) == "":
			return nil, fmt.Errorf("asset %s: token assets need a contract address", asset.Symbol)
		}
		if _, dup := table.bySymbol[asset.Symbol]; dup {
			return nil, fmt.Errorf("asset %s listed twice", asset.Symbol)
		}
		table.bySymbol[asset.Symbol] = asset
		table.ordered = append(table.ordered, asset)
	}

	sort.SliceStable(table.ordered, func(i, j int) bool {
		if table.ordered[i].Family != table.ordered[j].Family {
			return table.ordered[i].Family < table.ordered[j].Family
		}
		return table.ordered[i].Symbol < table.ordered[j].Symbol
	})
	return table, nil
}

// Lookup resolves a symbol within a chain family.
func (t *Table) Lookup(family domain.ChainFamily, symbol string) (domain.Asset, error) {
	asset, err := t.BySymbol(symbol)
	if err != nil {
		return domain.Asset{}, err
	}
	if asset.Family != family {
		return domain.Asset{}, fmt.Errorf("%w: %s is not available on %s", domain.ErrUnsupportedAsset, asset.Symbol, family)
	}
	return asset, nil
}

// BySymbol resolves a symbol regardless of family.
func (t *Table) BySymbol(symbol string) (domain.Asset, error) {
	asset, ok := t.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return domain.Asset{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedAsset, symbol)
	}
	return asset, nil
}

// All returns the assets ordered by family then symbol.
func (t *Table) All() []domain.Asset {
	out := make([]domain.Asset, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Family returns the assets of one chain family.
func (t *Table) Family(family domain.ChainFamily) []domain.Asset {
	var out []domain.Asset
	for _, asset := range t.ordered {
		if asset.Family == family {
			out = append(out, asset)
		}
	}
	return out
}
