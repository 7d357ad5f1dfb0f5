// Command bitkv is a one-shot CLI over a Bitcask directory: each
// invocation opens the store, performs a single operation, and closes it
// again, releasing the write lock before it exits.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nikosl/bitkv/internal/bitcask"
	"github.com/nikosl/bitkv/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("bitkv", flag.ContinueOnError)
	var putf, getf, delf, keysf, hasf, mergef bool
	fs.BoolVar(&putf, "put", false, "store <key> <value>")
	fs.BoolVar(&getf, "get", false, "print the value of <key>")
	fs.BoolVar(&delf, "del", false, "delete <key>")
	fs.BoolVar(&hasf, "has", false, "check whether <key> exists")
	fs.BoolVar(&keysf, "keys", false, "list every live key")
	fs.BoolVar(&mergef, "merge", false, "compact immutable data files")

	v := viper.New()
	config.BindFlags(fs, v)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := bitcask.Open(cfg.Dir,
		bitcask.WithSync(cfg.Sync),
		bitcask.WithFileSyncMode(cfg.SyncMode()),
		bitcask.WithMaxFileBytes(cfg.MaxFileBytes),
		bitcask.WithLogger(logger.Sugar()),
	)
	if err != nil {
		return err
	}
	defer db.Close()

	rest := fs.Args()
	switch {
	case putf:
		if len(rest) != 2 {
			return fmt.Errorf("--put requires exactly 2 arguments: <key> <value>")
		}
		return db.Put([]byte(rest[0]), []byte(rest[1]))

	case getf:
		if len(rest) != 1 {
			return fmt.Errorf("--get requires exactly 1 argument: <key>")
		}
		value, err := db.Get([]byte(rest[0]))
		if err != nil {
			return err
		}
		fmt.Println(string(value))
		return nil

	case delf:
		if len(rest) != 1 {
			return fmt.Errorf("--del requires exactly 1 argument: <key>")
		}
		return db.Delete([]byte(rest[0]))

	case hasf:
		if len(rest) != 1 {
			return fmt.Errorf("--has requires exactly 1 argument: <key>")
		}
		fmt.Println(db.Contains([]byte(rest[0])))
		return nil

	case keysf:
		for _, k := range db.Keys() {
			fmt.Println(string(k))
		}
		return nil

	case mergef:
		return db.Merge()

	default:
		return fmt.Errorf("one of --put, --get, --del, --has, --keys, --merge is required")
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log-level: %w", err)
	}
	return cfg.Build()
}
