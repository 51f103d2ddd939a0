package bridge

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed archmaps/aarch64.yaml
var aarch64YAML []byte

//go:embed archmaps/armv6m.yaml
var armv6mYAML []byte

// RegSlot describes one GDB g/G-packet register slot: which Iris resource
// backs it (if any), its width, and any trailing zero padding gdb's target
// description requires.
type RegSlot struct {
	Slot       int    `yaml:"slot"`
	Resource   string `yaml:"resource,omitempty"`
	Fallback   string `yaml:"fallback,omitempty"`
	WidthBits  int    `yaml:"width_bits,omitempty"`
	PadBits    int    `yaml:"pad_bits,omitempty"`
}

// ArchMap is one architecture's ordered register table, loaded from an
// embedded YAML file at init time.
type ArchMap struct {
	Name      string    `yaml:"name"`
	WordBits  int       `yaml:"word_bits"`
	Registers []RegSlot `yaml:"registers"`
	// TrailingPadBytes is appended once after every slot has been
	// serialized, not per-slot; aarch64's table carries 4 here because
	// GDB's aarch64 register stream writes all 98 regs then four more
	// zero bytes.
	TrailingPadBytes int `yaml:"trailing_pad_bytes,omitempty"`
}

// WidthBytes returns slot's serialized width in bytes, defaulting to the
// architecture's word size when the slot does not override it.
func (a *ArchMap) WidthBytes(s RegSlot) int {
	bits := s.WidthBits
	if bits == 0 {
		bits = a.WordBits
	}
	return bits/8 + s.PadBits/8
}

func loadArchMap(raw []byte) (*ArchMap, error) {
	var m ArchMap
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("bridge: parse register table: %w", err)
	}
	return &m, nil
}

// AArch64 is the register table for 64-bit Armv8-A cores.
func AArch64() (*ArchMap, error) { return loadArchMap(aarch64YAML) }

// ARMv6M is the register table for Armv6-M (Cortex-M0/M0+) cores.
func ARMv6M() (*ArchMap, error) { return loadArchMap(armv6mYAML) }

// DetectArchMap chooses the register table for instID by checking whether
// its resource list declares X30, the simplest reliable signal that
// distinguishes an aarch64 core from a Cortex-M one.
func DetectArchMap(resourceNames map[string]bool) (*ArchMap, error) {
	if resourceNames["X30"] {
		return AArch64()
	}
	return ARMv6M()
}
