package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/objmodel/vm"
	"github.com/chazu/objmodel/vm/dist"
)

// demoClasses is the class list registered when no snapshot is restored.
var demoClasses = []struct {
	name       string
	kind       vm.ClassKind
	boot, info bool
}{
	{"java/lang/Object", vm.InstanceClassKind, true, true},
	{"java/lang/String", vm.InstanceClassKind, true, true},
	{"java/lang/Class", vm.InstanceMirrorClassKind, true, false},
	{"java/lang/ClassLoader", vm.InstanceClassLoaderClassKind, true, false},
	{"java/lang/ref/SoftReference", vm.InstanceRefClassKind, true, true},
	{"jdk/internal/vm/StackChunk", vm.InstanceStackChunkClassKind, true, false},
	{"[B", vm.TypeArrayClassKind, true, false},
	{"[I", vm.TypeArrayClassKind, true, false},
	{"[Ljava/lang/Object;", vm.ObjArrayClassKind, true, false},
	{"com/example/App", vm.InstanceClassKind, false, false},
	{"com/example/AppLoader", vm.InstanceClassLoaderClassKind, false, false},
	{"[Lcom/example/App;", vm.ObjArrayClassKind, false, false},
}

type klutOptions struct {
	dump      string
	restore   string
	statsFile string
	lookups   int
}

func newKlutCmd(a *app) *cobra.Command {
	var opts klutOptions
	cmd := &cobra.Command{
		Use:   "klut",
		Short: "Populate the class info cache and report statistics",
		Long: `klut places a class list in a fresh class space, registers every class
with the class info cache and looks classes up through object headers
carrying their narrow class ids.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKlut(a, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.dump, "dump", "", "write a class list snapshot to this file")
	cmd.Flags().StringVar(&opts.restore, "restore", "", "restore classes from a snapshot file instead of the demo list")
	cmd.Flags().StringVar(&opts.statsFile, "stats-out", "", "write cache statistics as CBOR to this file")
	cmd.Flags().IntVar(&opts.lookups, "lookups", 4, "header lookups per class")
	return cmd
}

func runKlut(a *app, opts klutOptions, out io.Writer) error {
	m := a.manifest
	if !m.ClassInfoCache.Enabled {
		return errors.New("klut: the class info cache is disabled")
	}
	format, err := m.HeaderFormat()
	if err != nil {
		return err
	}
	codec, err := m.Codec()
	if err != nil {
		return err
	}
	cache, err := vm.NewClassInfoCache(codec, m.CacheOptions())
	if err != nil {
		return fmt.Errorf("klut: %w", err)
	}
	defer cache.Close()

	space := vm.NewClassSpace(codec)
	if opts.restore != "" {
		data, err := os.ReadFile(opts.restore)
		if err != nil {
			return fmt.Errorf("klut: %w", err)
		}
		snap, err := dist.UnmarshalSnapshot(data)
		if err != nil {
			return err
		}
		if _, err := dist.Restore(space, cache, snap); err != nil {
			return err
		}
		fmt.Fprintf(out, "Restored %d classes from snapshot %s\n", space.Len(), snap.ID)
	} else {
		for _, d := range demoClasses {
			c, err := space.Define(d.name, d.kind, d.boot, d.info)
			if err != nil {
				return fmt.Errorf("klut: %w", err)
			}
			cache.Register(c)
		}
		fmt.Fprintf(out, "Registered %d classes (%s)\n", space.Len(), codec)
	}

	misses, err := lookupThroughHeaders(format, codec, space, cache, opts.lookups)
	if err != nil {
		return err
	}
	if misses > 0 {
		log.Warningf("%d header lookups missed the class info cache", misses)
	}

	if reporter, ok := cache.(vm.StatisticsReporter); ok {
		if err := reporter.PrintStatistics(out); err != nil {
			return err
		}
		if opts.statsFile != "" {
			data, err := dist.MarshalStatistics(reporter.Statistics())
			if err != nil {
				return err
			}
			if err := os.WriteFile(opts.statsFile, data, 0644); err != nil {
				return fmt.Errorf("klut: %w", err)
			}
		}
	} else if opts.statsFile != "" {
		return errors.New("klut: --stats-out needs class info cache statistics enabled")
	}

	if opts.dump != "" {
		data, err := dist.MarshalSnapshot(dist.TakeSnapshot(space))
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.dump, data, 0644); err != nil {
			return fmt.Errorf("klut: %w", err)
		}
		fmt.Fprintf(out, "Wrote snapshot of %d classes to %s\n", space.Len(), opts.dump)
	}
	return nil
}

// lookupThroughHeaders installs an object header per class and resolves the
// class info entry from the header word, the way an object iterator would.
// Class i is looked up lookups*(i%3+1) times. With classic headers the
// narrow class id is encoded from the class address directly.
func lookupThroughHeaders(format vm.HeaderFormat, codec *vm.ClassPointerCodec, space *vm.ClassSpace,
	cache vm.ClassInfoCache, lookups int) (int, error) {
	misses := 0
	for i, c := range space.Classes() {
		nk := codec.EncodeClass(c)
		var h *vm.ObjectHeader
		if format.Compact {
			h = vm.NewObjectHeaderWithClass(format, nk)
		} else {
			h = vm.NewObjectHeader(format)
		}
		if _, err := h.Update(vm.HeaderWord.IncrAge); err != nil {
			return misses, err
		}

		for n := 0; n < lookups*(i%3+1); n++ {
			id := nk
			if format.Compact {
				id = h.Load().NarrowClass()
			}
			e := cache.Lookup(id)
			if !e.IsValid() {
				misses++
				continue
			}
			if err := e.VerifyAgainst(c); err != nil {
				return misses, fmt.Errorf("klut: %s: %w", c.Name, err)
			}
		}
	}
	return misses, nil
}
