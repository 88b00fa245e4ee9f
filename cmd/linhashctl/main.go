// linhashctl is a small CLI front-end over pkg/linhash: a handful of
// subcommands over one store, flags parsed with pflag, one open store per
// invocation.
//
// Usage:
//
//	linhashctl --home <dir> put <key> <value>
//	linhashctl --home <dir> get <key>
//	linhashctl --home <dir> del <key>
//	linhashctl --home <dir> status
//	linhashctl --home <dir> keys
//	linhashctl --home <dir> scan
//	linhashctl --home <dir> rehash
//	linhashctl --home <dir> clear
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kvstash/linhash/pkg/linhash"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "linhashctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("linhashctl", flag.ContinueOnError)

	home := fs.StringP("home", "H", "", "store home directory (required)")
	initLevel := fs.Int("init-level", 0, "pre-expand address space to U*2^initLevel-1 on create")
	unitCapacity := fs.Uint64("unit-capacity", 0, "U, the address array's growth unit (default 8)")
	loadThreshold := fs.Float64("load-threshold", 0, "target load factor that triggers splits (default 0.75)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: linhashctl --home <dir> <command> [args]")
		fmt.Fprintln(os.Stderr, "\nCommands:")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.usage)
		}
		fmt.Fprintln(os.Stderr, "\nFlags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *home == "" {
		fs.Usage()
		return fmt.Errorf("--home is required")
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	cmd, cmdArgs := rest[0], rest[1:]

	c, ok := lookupCommand(cmd)
	if !ok {
		return fmt.Errorf("unknown command %q (see --help)", cmd)
	}

	store, err := linhash.Open(linhash.Options{
		HomeDir:           *home,
		InitLevel:         *initLevel,
		UnitCapacity:      *unitCapacity,
		HashLoadThreshold: *loadThreshold,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", *home, err)
	}
	defer store.Close()

	return c.run(store, cmdArgs)
}
