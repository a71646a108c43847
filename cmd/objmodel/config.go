package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chazu/objmodel/manifest"
)

// Configuration keys, named after their objmodel.toml table and key.
const (
	keyCompact             = "header.compact"
	keyLocking             = "header.locking"
	keyBase                = "class-pointers.base"
	keyShift               = "class-pointers.shift"
	keyBits                = "class-pointers.bits"
	keyCacheEnabled        = "class-info-cache.enabled"
	keyStatistics          = "class-info-cache.statistics"
	keyExpensiveStatistics = "class-info-cache.expensive-statistics"
)

var configFlags = map[string]string{
	keyCompact:             "compact",
	keyLocking:             "locking",
	keyBase:                "class-base",
	keyShift:               "class-shift",
	keyBits:                "class-bits",
	keyCacheEnabled:        "cache",
	keyStatistics:          "statistics",
	keyExpensiveStatistics: "expensive-statistics",
}

func bindConfigFlags(v *viper.Viper, flags *pflag.FlagSet) {
	def := manifest.Default()
	flags.Bool("compact", def.Header.Compact, "use compact object headers")
	flags.String("locking", def.Header.Locking, "locking mode (legacy, lightweight, lightweight-table)")
	flags.Uint64("class-base", def.ClassPointers.Base, "class pointer encoding base")
	flags.Uint("class-shift", def.ClassPointers.Shift, "class pointer encoding shift")
	flags.Uint("class-bits", def.ClassPointers.Bits, "narrow class id width")
	flags.Bool("cache", def.ClassInfoCache.Enabled, "enable the class info cache")
	flags.Bool("statistics", false, "count class info cache registrations")
	flags.Bool("expensive-statistics", false, "also count class info cache lookups")

	for key, name := range configFlags {
		// Lookup cannot fail: the flags were registered above.
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	v.SetEnvPrefix("OBJMODEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// loadConfig reads objmodel.toml found from dir (or the defaults) and lays
// explicitly set flags and environment variables over it.
func loadConfig(v *viper.Viper, dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	} else {
		log.Infof("loaded %s from %s", manifest.FileName, m.Dir)
	}

	if v.IsSet(keyCompact) {
		m.Header.Compact = v.GetBool(keyCompact)
	}
	if v.IsSet(keyLocking) {
		m.Header.Locking = v.GetString(keyLocking)
	}
	if v.IsSet(keyBase) {
		m.ClassPointers.Base = v.GetUint64(keyBase)
	}
	if v.IsSet(keyShift) {
		m.ClassPointers.Shift = v.GetUint(keyShift)
	}
	if v.IsSet(keyBits) {
		m.ClassPointers.Bits = v.GetUint(keyBits)
	}
	if v.IsSet(keyCacheEnabled) {
		m.ClassInfoCache.Enabled = v.GetBool(keyCacheEnabled)
	}
	if v.IsSet(keyStatistics) {
		m.ClassInfoCache.Statistics = v.GetBool(keyStatistics)
	}
	if v.IsSet(keyExpensiveStatistics) {
		m.ClassInfoCache.ExpensiveStatistics = v.GetBool(keyExpensiveStatistics)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if a.manifest.Dir != "" {
				fmt.Fprintf(out, "# from %s\n", a.manifest.Dir)
			}
			return a.manifest.Encode(out)
		},
	}
}
