// Package manifest handles objmodel.toml configuration: header layout,
// class pointer encoding and class info cache settings.
package manifest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/objmodel/vm"
)

// FileName is the name of the configuration file.
const FileName = "objmodel.toml"

// ErrInvalidManifest wraps every validation failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest represents an objmodel.toml configuration.
type Manifest struct {
	Header         Header         `toml:"header"`
	ClassPointers  ClassPointers  `toml:"class-pointers"`
	ClassInfoCache ClassInfoCache `toml:"class-info-cache"`

	// Dir is the directory containing the objmodel.toml file (set at load time).
	Dir string `toml:"-"`
}

// Header selects the header word layout.
type Header struct {
	Compact bool   `toml:"compact"`
	Locking string `toml:"locking"`
}

// ClassPointers configures the compressed class pointer encoding.
type ClassPointers struct {
	Base  uint64 `toml:"base"`
	Shift uint   `toml:"shift"`
	Bits  uint   `toml:"bits"`
}

// ClassInfoCache configures the class info lookup table.
type ClassInfoCache struct {
	Enabled             bool `toml:"enabled"`
	Statistics          bool `toml:"statistics"`
	ExpensiveStatistics bool `toml:"expensive-statistics"`
}

// Default class pointer encodings. Compact headers hold 19 bits of narrow
// class; classic headers keep a full 32-bit class pointer field.
const (
	DefaultBase         uint64 = 0x8_0000_0000
	DefaultCompactShift uint   = 10
	DefaultCompactBits  uint   = 19
	DefaultClassicShift uint   = 0
	DefaultClassicBits  uint   = 32
)

// Default returns the configuration used when no objmodel.toml exists.
func Default() *Manifest {
	return &Manifest{
		Header: Header{Compact: true, Locking: vm.LockingLightweight.String()},
		ClassPointers: ClassPointers{
			Base:  DefaultBase,
			Shift: DefaultCompactShift,
			Bits:  DefaultCompactBits,
		},
		ClassInfoCache: ClassInfoCache{Enabled: true},
	}
}

// Load parses an objmodel.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates objmodel.toml content. Keys not present keep
// their defaults; with classic headers the class pointer defaults switch to
// the uncompressed-width encoding and the cache is off unless enabled.
func Parse(data []byte) (*Manifest, error) {
	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalidManifest, undecoded[0])
	}

	if !m.Header.Compact {
		if !md.IsDefined("class-pointers", "shift") {
			m.ClassPointers.Shift = DefaultClassicShift
		}
		if !md.IsDefined("class-pointers", "bits") {
			m.ClassPointers.Bits = DefaultClassicBits
		}
		if !md.IsDefined("class-info-cache", "enabled") {
			m.ClassInfoCache.Enabled = false
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an objmodel.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks that the settings describe a usable configuration.
func (m *Manifest) Validate() error {
	if _, err := vm.ParseLockingMode(m.Header.Locking); err != nil {
		return fmt.Errorf("%w: header.locking: %v", ErrInvalidManifest, err)
	}
	if _, err := m.Codec(); err != nil {
		return fmt.Errorf("%w: class-pointers: %v", ErrInvalidManifest, err)
	}
	if m.Header.Compact && m.ClassPointers.Bits > vm.HeaderClassBits {
		return fmt.Errorf("%w: class-pointers.bits = %d does not fit the %d-bit header field",
			ErrInvalidManifest, m.ClassPointers.Bits, vm.HeaderClassBits)
	}
	if m.ClassInfoCache.Enabled && m.ClassPointers.Bits > vm.MaxClassInfoCacheBits {
		return fmt.Errorf("%w: class-info-cache needs class-pointers.bits <= %d, have %d",
			ErrInvalidManifest, vm.MaxClassInfoCacheBits, m.ClassPointers.Bits)
	}
	if !m.ClassInfoCache.Enabled && (m.ClassInfoCache.Statistics || m.ClassInfoCache.ExpensiveStatistics) {
		return fmt.Errorf("%w: class-info-cache statistics requested with the cache disabled", ErrInvalidManifest)
	}
	return nil
}

// HeaderFormat returns the configured header layout.
func (m *Manifest) HeaderFormat() (vm.HeaderFormat, error) {
	mode, err := vm.ParseLockingMode(m.Header.Locking)
	if err != nil {
		return vm.HeaderFormat{}, err
	}
	if m.Header.Compact {
		return vm.CompactFormat(mode), nil
	}
	return vm.ClassicFormat(mode), nil
}

// Codec builds the configured class pointer codec.
func (m *Manifest) Codec() (*vm.ClassPointerCodec, error) {
	return vm.NewClassPointerCodec(vm.Address(m.ClassPointers.Base), m.ClassPointers.Shift, m.ClassPointers.Bits)
}

// CacheOptions returns the class info cache options.
func (m *Manifest) CacheOptions() vm.CacheOptions {
	return vm.CacheOptions{
		Statistics:          m.ClassInfoCache.Statistics,
		ExpensiveStatistics: m.ClassInfoCache.ExpensiveStatistics,
	}
}

// Encode writes m in objmodel.toml form.
func (m *Manifest) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(m)
}
