// Command cachem-cli talks to a cachem-server serving the sample caches and
// inspects snapshot files offline.
//
// Usage:
//
//	cachem-cli [-addr host:port] [-format json|msgpack] <command> [args]
//
// Commands operate on the entry cache (cache 0):
//
//	ping
//	fetch <id>
//	fetchall
//	lookup <id>...
//	insert <id> <val_1> <val_2> <val_3>
//	update <id> <val_1> <val_2> <val_3>
//	delete <id>
//	keys
//	exists <id>
//	count
//	mexists <id>...
//	mdelete <id>...
//	save
//	load <export-file>
//	dump [entries|profiles] <snapshot-file>
//
// load inserts the entries of a file in the -format encoding, such as the
// output of fetchall or dump. save snapshots every cache on the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cachem/cachem/internal/sample"
	"github.com/cachem/cachem/pkg/client"
	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/config"
	"github.com/cachem/cachem/pkg/export"
	"github.com/cachem/cachem/pkg/protocol"
)

const requestTimeout = 10 * time.Second

var errUsage = errors.New("usage: cachem-cli [-addr host:port] [-format json|msgpack] <command> [args]")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "cachem-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("cachem-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Address, "addr", cfg.Address, "Server address")
	formatName := fs.String("format", "json", "Output format (json, msgpack)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	format, err := export.ByName(*formatName)
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "dump" {
		return dump(rest, format, stdout)
	}

	var action protocol.Action
	if cmd != "load" {
		if action, err = protocol.ParseAction(cmd); err != nil {
			return err
		}
	}

	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	entries := client.NewCache(c, sample.EntryCache, codec.Uint32, sample.EntryCodec)
	if cmd == "load" {
		return load(ctx, entries, rest, format, stdout)
	}
	result, err := execute(ctx, c, entries, action, rest)
	if err != nil {
		return err
	}
	return write(stdout, format, result)
}

// execute runs one action and returns the value to print.
func execute(ctx context.Context, c *client.Client, entries *client.Cache[uint32, sample.Entry], action protocol.Action, args []string) (any, error) {
	switch action {
	case protocol.ActionPing:
		if err := c.Ping(ctx); err != nil {
			return nil, err
		}
		return "PONG", nil

	case protocol.ActionFetch:
		id, err := parseID(args)
		if err != nil {
			return nil, err
		}
		e, found, err := entries.Fetch(ctx, id)
		if err != nil || !found {
			return nil, err
		}
		return e, nil

	case protocol.ActionFetchAll:
		return entries.FetchAll(ctx)

	case protocol.ActionLookup:
		ids, err := parseIDs(args)
		if err != nil {
			return nil, err
		}
		return entries.Lookup(ctx, ids...)

	case protocol.ActionMExists:
		ids, err := parseIDs(args)
		if err != nil {
			return nil, err
		}
		return entries.ExistsEach(ctx, ids...)

	case protocol.ActionMDelete:
		ids, err := parseIDs(args)
		if err != nil {
			return nil, err
		}
		if err := entries.DeleteEach(ctx, ids...); err != nil {
			return nil, err
		}
		return "OK", nil

	case protocol.ActionSave:
		if err := c.Save(ctx); err != nil {
			return nil, err
		}
		return "OK", nil

	case protocol.ActionInsert, protocol.ActionUpdate:
		e, err := parseEntry(args)
		if err != nil {
			return nil, err
		}
		if action == protocol.ActionInsert {
			err = entries.Insert(ctx, e)
		} else {
			err = entries.Update(ctx, e)
		}
		if err != nil {
			return nil, err
		}
		return "OK", nil

	case protocol.ActionDelete:
		id, err := parseID(args)
		if err != nil {
			return nil, err
		}
		if err := entries.Delete(ctx, id); err != nil {
			return nil, err
		}
		return "OK", nil

	case protocol.ActionKeys:
		return entries.Keys(ctx)

	case protocol.ActionExists:
		id, err := parseID(args)
		if err != nil {
			return nil, err
		}
		return entries.Exists(ctx, id)

	case protocol.ActionCount:
		return entries.Count(ctx)
	}
	return nil, fmt.Errorf("unsupported command %s", action)
}

func parseID(args []string) (uint32, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one id, got %d arguments", len(args))
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	return uint32(id), nil
}

func parseIDs(args []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(args))
	for _, a := range args {
		id, err := parseID([]string{a})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseEntry(args []string) (sample.Entry, error) {
	if len(args) != 4 {
		return sample.Entry{}, fmt.Errorf("expected <id> <val_1> <val_2> <val_3>, got %d arguments", len(args))
	}
	id, err := parseID(args[:1])
	if err != nil {
		return sample.Entry{}, err
	}
	v1, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return sample.Entry{}, fmt.Errorf("invalid val_1 %q: %w", args[1], err)
	}
	v2, err := strconv.ParseBool(args[2])
	if err != nil {
		return sample.Entry{}, fmt.Errorf("invalid val_2 %q: %w", args[2], err)
	}
	v3, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		return sample.Entry{}, fmt.Errorf("invalid val_3 %q: %w", args[3], err)
	}
	return sample.Entry{ID: id, Val1: uint32(v1), Val2: v2, Val3: v3}, nil
}

// load inserts the entries stored in an export file.
func load(ctx context.Context, entries *client.Cache[uint32, sample.Entry], args []string, format export.Format, stdout io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var records []sample.Entry
	if err := format.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode %s as %s: %w", args[0], format.Name(), err)
	}
	if err := entries.Insert(ctx, records...); err != nil {
		return err
	}
	return write(stdout, format, len(records))
}

// dump decodes a snapshot file of one of the sample caches.
func dump(args []string, format export.Format, stdout io.Writer) error {
	target := sample.EntryTarget
	switch len(args) {
	case 1:
	case 2:
		target, args = args[0], args[1:]
	default:
		return errUsage
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	var records any
	switch target {
	case sample.EntryTarget:
		records, err = codec.Unmarshal(codec.SliceOf(sample.EntryCodec), data)
	case sample.ProfileTarget:
		records, err = codec.Unmarshal(codec.SliceOf(sample.ProfileCodec), data)
	default:
		return fmt.Errorf("unknown snapshot target %q", target)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}
	return write(stdout, format, records)
}

func write(w io.Writer, format export.Format, v any) error {
	b, err := format.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if format.Name() == "json" {
		_, err = io.WriteString(w, "\n")
	}
	return err
}
