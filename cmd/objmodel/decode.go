package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newDecodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <word>",
		Short: "Decode a 64-bit header word",
		Long: `decode prints the fields of a header word under the configured layout.
The word may be given in decimal, hex (0x...), octal (0o...) or binary (0b...).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("decode: invalid word %q: %w", args[0], err)
			}
			format, err := a.manifest.HeaderFormat()
			if err != nil {
				return err
			}
			codec, err := a.manifest.Codec()
			if err != nil {
				return err
			}

			w := format.Word(raw)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "word:    %#018x\n", w.Value())
			fmt.Fprintf(out, "format:  %s\n", format)
			fmt.Fprintf(out, "state:   %s\n", w.State())
			fmt.Fprintf(out, "decoded: %s\n", w)

			if !w.IsUnlocked() {
				return nil
			}
			fmt.Fprintf(out, "age:     %d\n", w.Age())
			if !format.Compact {
				return nil
			}
			nk := w.NarrowClass()
			switch {
			case nk == 0:
				fmt.Fprintf(out, "class:   none\n")
			case nk > codec.MaxNarrowClass():
				fmt.Fprintf(out, "class:   narrow %d outside the %d-bit encoding\n", nk, codec.Bits())
			default:
				fmt.Fprintf(out, "class:   %#x (narrow %d)\n", uint64(w.Class(codec)), nk)
			}
			fmt.Fprintf(out, "length:  %d (if array)\n", w.ArrayLength())
			return nil
		},
	}
}
