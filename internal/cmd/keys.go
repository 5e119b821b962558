package cmd

import (
	"flag"
	"fmt"
	"io"

	evdev "github.com/holoplot/go-evdev"

	"github.com/filipyuen/Q9CP/pkg/keymap"
)

func newKeysCommand() command {
	return command{
		name:        "keys",
		description: "Print the key classification table for the active configuration",
		configure: func(fs *flag.FlagSet) {
			fs.Bool("symbols", false, "Also list the injector symbol for every forwardable key")
		},
		run: runKeys,
	}
}

func runKeys(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	table, err := ctx.Config.KeyTable()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Toggle: %s\n", toggleName(table))
	intercepted := interceptedKeys(table)
	fmt.Fprintf(stdout, "Intercepted (%d):\n", len(intercepted))
	for _, code := range intercepted {
		fmt.Fprintf(stdout, "  %-16s %d\n", keymap.Name(code), code)
	}
	fmt.Fprintln(stdout, "Everything else passes through.")

	if boolFlag(fs, "symbols") {
		entries := table.Symbols()
		fmt.Fprintf(stdout, "Injector symbols (%d):\n", len(entries))
		for _, entry := range entries {
			fmt.Fprintf(stdout, "  %-16s %s\n", keymap.Name(entry.Code), entry.Symbol)
		}
	}
	return nil
}

// interceptedKeys lists the intercepted codes without the toggle, which is
// reported on its own line.
func interceptedKeys(table *keymap.Table) []evdev.EvCode {
	all := table.Intercepted()
	out := make([]evdev.EvCode, 0, len(all))
	for _, code := range all {
		if !table.IsToggle(code) {
			out = append(out, code)
		}
	}
	return out
}
