// Command bitkvd is a long-running daemon that serves one Bitcask store
// over a RESP-style TCP protocol, the kind of front-end collaborator this
// store is meant to sit behind.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tidwall/redcon"

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
	fs := flag.NewFlagSet("bitkvd", flag.ContinueOnError)
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
	sugar := logger.Sugar()

	db, err := bitcask.Open(cfg.Dir,
		bitcask.WithSync(cfg.Sync),
		bitcask.WithFileSyncMode(cfg.SyncMode()),
		bitcask.WithMaxFileBytes(cfg.MaxFileBytes),
		bitcask.WithLogger(sugar),
	)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := &server{db: db, log: sugar}

	done := make(chan error, 1)
	go func() {
		done <- redcon.ListenAndServe(cfg.Addr, srv.handle, srv.accept, srv.closed)
	}()

	sugar.Infow("bitkvd listening", "addr", cfg.Addr, "dir", cfg.Dir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-done:
		return err
	case <-sig:
		sugar.Infow("shutting down")
		return nil
	}
}

// server adapts a *bitcask.Bitcask to the RESP command set bitkvd exposes:
// PING, GET, SET, DEL, EXISTS, KEYS, MERGE.
type server struct {
	db  *bitcask.Bitcask
	log *zap.SugaredLogger
}

func (s *server) accept(conn redcon.Conn) bool {
	return true
}

func (s *server) closed(conn redcon.Conn, err error) {}

func (s *server) handle(conn redcon.Conn, cmd redcon.Command) {
	name := strings.ToLower(string(cmd.Args[0]))

	switch name {
	case "ping":
		conn.WriteString("PONG")

	case "get":
		if len(cmd.Args) != 2 {
			conn.WriteError("ERR wrong number of arguments for 'get' command")
			return
		}
		value, err := s.db.Get(cmd.Args[1])
		if err != nil {
			if errors.Is(err, bitcask.ErrNotFound) {
				conn.WriteNull()
				return
			}
			conn.WriteError("ERR " + err.Error())
			return
		}
		conn.WriteBulk(value)

	case "set":
		if len(cmd.Args) != 3 {
			conn.WriteError("ERR wrong number of arguments for 'set' command")
			return
		}
		if err := s.db.Put(cmd.Args[1], cmd.Args[2]); err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
		conn.WriteString("OK")

	case "del":
		if len(cmd.Args) != 2 {
			conn.WriteError("ERR wrong number of arguments for 'del' command")
			return
		}
		existed := s.db.Contains(cmd.Args[1])
		if err := s.db.Delete(cmd.Args[1]); err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
		if existed {
			conn.WriteInt(1)
		} else {
			conn.WriteInt(0)
		}

	case "exists":
		if len(cmd.Args) != 2 {
			conn.WriteError("ERR wrong number of arguments for 'exists' command")
			return
		}
		if s.db.Contains(cmd.Args[1]) {
			conn.WriteInt(1)
		} else {
			conn.WriteInt(0)
		}

	case "keys":
		keys := s.db.Keys()
		conn.WriteArray(len(keys))
		for _, k := range keys {
			conn.WriteBulk(k)
		}

	case "merge":
		if err := s.db.Merge(); err != nil {
			conn.WriteError("ERR " + err.Error())
			return
		}
		conn.WriteString("OK")

	case "quit":
		conn.WriteString("OK")
		conn.Close()

	default:
		conn.WriteError("ERR unknown command '" + name + "'")
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log-level: %w", err)
	}
	return cfg.Build()
}
