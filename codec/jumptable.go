package codec

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SwapCase is a code path of the sandwich contract selected by the first
// dispatch byte of the call-data.
type SwapCase uint8

const (
	V2InputSingle SwapCase = iota
	V2Output0Single
	V2Output1Single
	V2InputMultiFirst
	V2InputMultiNext
	V2OutputMultiFirst
	V2OutputMultiNext
	V3Input0
	V3Input1
	V3Output0
	V3Output1
	Recover

	numSwapCases
)

// every code path has the same size in the contract bytecode
const jumpStride = 5

var ErrInvalidLayout = errors.New("invalid jump label layout")

func (c SwapCase) String() string {
	switch c {
	case V2InputSingle:
		return "v2_input_single"
	case V2Output0Single:
		return "v2_output0_single"
	case V2Output1Single:
		return "v2_output1_single"
	case V2InputMultiFirst:
		return "v2_input_multi_first"
	case V2InputMultiNext:
		return "v2_input_multi_next"
	case V2OutputMultiFirst:
		return "v2_output_multi_first"
	case V2OutputMultiNext:
		return "v2_output_multi_next"
	case V3Input0:
		return "v3_input0"
	case V3Input1:
		return "v3_input1"
	case V3Output0:
		return "v3_output0"
	case V3Output1:
		return "v3_output1"
	case Recover:
		return "recover"
	}
	return fmt.Sprintf("SwapCase(%d)", uint8(c))
}

// family returns the base field of the layout the case belongs to and its
// index inside that family.
func (c SwapCase) family(l Layout) (base uint8, index int) {
	switch c {
	case V2InputSingle, V2Output0Single, V2Output1Single:
		return l.V2SingleBase, int(c - V2InputSingle)
	case V2InputMultiFirst, V2InputMultiNext, V2OutputMultiFirst, V2OutputMultiNext:
		return l.V2MultiBase, int(c - V2InputMultiFirst)
	case V3Input0, V3Input1, V3Output0, V3Output1:
		return l.V3Base, int(c - V3Input0)
	case Recover:
		return l.RecoverBase, 0
	}
	panic(fmt.Sprintf("codec: unknown swap case %d", uint8(c)))
}

// Layout holds the first jump destination of each code path family. It must match
// the deployed contract bytecode.
type Layout struct {
	V2SingleBase uint8 `yaml:"v2_single"`
	V2MultiBase  uint8 `yaml:"v2_multi"`
	V3Base       uint8 `yaml:"v3"`
	RecoverBase  uint8 `yaml:"recover"`
}

var DefaultLayout = Layout{
	V2SingleBase: 48,
	V2MultiBase:  83,
	V3Base:       54,
	RecoverBase:  124,
}

type layoutFile struct {
	JumpLabels Layout `yaml:"jump_labels"`
}

// LoadLayout reads the `jump_labels` section of a yaml file. Families missing from
// the file keep their DefaultLayout value.
func LoadLayout(file string) (Layout, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Layout{}, err
	}

	config := layoutFile{JumpLabels: DefaultLayout}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Layout{}, err
	}
	return config.JumpLabels, config.JumpLabels.Validate()
}

// Validate checks that every offset of the layout fits into a single byte.
func (l Layout) Validate() error {
	for c := SwapCase(0); c < numSwapCases; c++ {
		base, index := c.family(l)
		if int(base)+jumpStride*index > 0xff {
			return fmt.Errorf("%w: %s does not fit into one byte", ErrInvalidLayout, c)
		}
	}
	return nil
}

// JumpLabels is the immutable offset table built from a Layout.
type JumpLabels struct {
	offsets [numSwapCases]uint8
}

func NewJumpLabels(l Layout) JumpLabels {
	var j JumpLabels
	for c := SwapCase(0); c < numSwapCases; c++ {
		base, index := c.family(l)
		j.offsets[c] = base + uint8(jumpStride*index)
	}
	return j
}

// Offset returns the jump destination of c. A value outside the SwapCase set is a
// programming error and panics.
func (j JumpLabels) Offset(c SwapCase) uint8 {
	if c >= numSwapCases {
		panic(fmt.Sprintf("codec: unknown swap case %d", uint8(c)))
	}
	return j.offsets[c]
}

// FindV2SwapCase resolves the V2 code path. wethIsToken0 is only relevant for
// single hop swaps where WETH is the output.
func FindV2SwapCase(isMulti, isFirst, isWETHInput, wethIsToken0 bool) SwapCase {
	if isMulti {
		switch {
		case isFirst && isWETHInput:
			return V2InputMultiFirst
		case !isFirst && isWETHInput:
			return V2InputMultiNext
		case isFirst && !isWETHInput:
			return V2OutputMultiFirst
		default:
			return V2OutputMultiNext
		}
	}
	switch {
	case isWETHInput:
		return V2InputSingle
	case wethIsToken0:
		return V2Output0Single
	default:
		return V2Output1Single
	}
}

// FindV3SwapCase resolves the V3 code path from the direction and the ordering of
// the input token against the output token.
func FindV3SwapCase(isWETHInput, inputIsToken0 bool) SwapCase {
	switch {
	case isWETHInput && inputIsToken0:
		return V3Input0
	case isWETHInput:
		return V3Input1
	case inputIsToken0:
		return V3Output0
	default:
		return V3Output1
	}
}
