// Package pools keeps the set of known liquidity pools, discovers new ones from
// factory logs and persists them between restarts.
package pools

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var ErrUnknownVariant = errors.New("unknown pool variant")

type Variant uint8

const (
	UniswapV2 Variant = iota
	UniswapV3
)

func (v Variant) String() string {
	switch v {
	case UniswapV2:
		return "uniswap_v2"
	case UniswapV3:
		return "uniswap_v3"
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

func (v Variant) MarshalText() ([]byte, error) {
	switch v {
	case UniswapV2, UniswapV3:
		return []byte(v.String()), nil
	}
	return nil, ErrUnknownVariant
}

func (v *Variant) UnmarshalText(text []byte) error {
	switch string(text) {
	case "uniswap_v2":
		*v = UniswapV2
	case "uniswap_v3":
		*v = UniswapV3
	default:
		return fmt.Errorf("%w: %s", ErrUnknownVariant, text)
	}
	return nil
}

// Pool is immutable once discovered.
type Pool struct {
	Address common.Address `json:"address"`
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`
	// fee in hundredths of a bip
	SwapFee uint32  `json:"swap_fee"`
	Variant Variant `json:"variant"`
}

// OtherToken returns the token of the pool that is not token, and false if token is
// not part of the pool.
func (p Pool) OtherToken(token common.Address) (common.Address, bool) {
	switch token {
	case p.Token0:
		return p.Token1, true
	case p.Token1:
		return p.Token0, true
	}
	return common.Address{}, false
}

// Dex is a pool factory scanned for new pools starting at CreatedBlock.
type Dex struct {
	Name         string         `yaml:"name"`
	Factory      common.Address `yaml:"factory"`
	Variant      Variant        `yaml:"variant"`
	CreatedBlock uint64         `yaml:"created_block"`
}

// MainnetDexes are the factories scanned when no dex config is given.
var MainnetDexes = []Dex{
	{Name: "uniswap-v2", Factory: common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"), Variant: UniswapV2, CreatedBlock: 10000835},
	{Name: "sushiswap", Factory: common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac"), Variant: UniswapV2, CreatedBlock: 10794229},
	{Name: "crypto-com", Factory: common.HexToAddress("0x9DEB29c9a4c7A88a3C0257393b7f3335338D9A9D"), Variant: UniswapV2, CreatedBlock: 10828414},
	{Name: "convergence", Factory: common.HexToAddress("0x4eef5746ED22A2fD368629C1852365bf5dcb79f1"), Variant: UniswapV2, CreatedBlock: 12385067},
	{Name: "pancakeswap", Factory: common.HexToAddress("0x1097053Fd2ea711dad45caCcc45EfF7548fCB362"), Variant: UniswapV2, CreatedBlock: 15614590},
	{Name: "shibaswap", Factory: common.HexToAddress("0x115934131916C8b277DD010Ee02de363c09d037c"), Variant: UniswapV2, CreatedBlock: 12771526},
	{Name: "saitaswap", Factory: common.HexToAddress("0x35113a300ca0D7621374890ABFEAC30E88f214b1"), Variant: UniswapV2, CreatedBlock: 15210780},
	{Name: "uniswap-v3", Factory: common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"), Variant: UniswapV3, CreatedBlock: 12369621},
	{Name: "pancakeswap-v3", Factory: common.HexToAddress("0x41ff9AA7e16B8B1a8a8dc4f0eFacd93D02d071c9"), Variant: UniswapV3, CreatedBlock: 16950672},
	{Name: "sushiswap-v3", Factory: common.HexToAddress("0xbACEB8eC6b9355Dfc0269C18bac9d6E2Bdc29C4F"), Variant: UniswapV3, CreatedBlock: 16955547},
}

type dexesFile struct {
	Dexes []Dex `yaml:"dexes"`
}

// LoadDexes parses the `dexes` list of a yaml file.
func LoadDexes(file string) ([]Dex, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var config dexesFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return config.Dexes, nil
}
