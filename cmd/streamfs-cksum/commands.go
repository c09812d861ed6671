package main

import (
	"context"
	stderr "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/objectfs/streamfs/internal/adapter"
	"github.com/objectfs/streamfs/internal/checksum"
	"github.com/objectfs/streamfs/pkg/types"
)

// errMismatch is returned by verify after it has reported the mismatch.
var errMismatch = stderr.New("checksum mismatch")

// environment is what a command runs against.
type environment struct {
	adapter *adapter.Adapter
	id      types.Identity
	store   bool
	defAlg  string
}

type command struct {
	usage   string
	minArgs int
	maxArgs int
	offline bool
	run     func(ctx context.Context, env *environment, args []string, out io.Writer) error
}

var commands = map[string]command{
	"calc":   {usage: "<path> [algorithm]", minArgs: 1, maxArgs: 2, run: runCalc},
	"get":    {usage: "<path> [algorithm]", minArgs: 1, maxArgs: 2, run: runGet},
	"set":    {usage: "<path> <algorithm> <value>", minArgs: 3, maxArgs: 3, run: runSet},
	"del":    {usage: "<path>", minArgs: 1, maxArgs: 1, run: runDel},
	"verify": {usage: "<path> <algorithm> <value>", minArgs: 3, maxArgs: 3, run: runVerify},
	"list":   {usage: "<path>", minArgs: 1, maxArgs: 1, run: runList},
	"put":    {usage: "<local-file> <path>", minArgs: 2, maxArgs: 2, run: runPut},
	"rm":     {usage: "<path>", minArgs: 1, maxArgs: 1, run: runRemove},
	"names":  {usage: "", minArgs: 0, maxArgs: 0, offline: true, run: runNames},
}

// algorithm picks the optional algorithm argument at index i.
func (env *environment) algorithm(args []string, i int) string {
	if len(args) > i && args[i] != "" {
		return strings.ToUpper(args[i])
	}
	return strings.ToUpper(env.defAlg)
}

func (env *environment) withManager(ctx context.Context, fn func(*checksum.Manager) error) error {
	return env.adapter.FileSystem().WithChecksums(ctx, env.id, fn)
}

func runCalc(ctx context.Context, env *environment, args []string, out io.Writer) error {
	alg := env.algorithm(args, 1)
	return env.withManager(ctx, func(m *checksum.Manager) error {
		v, err := m.Calc(ctx, args[0], alg, env.store)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", alg, v)
		return nil
	})
}

func runGet(ctx context.Context, env *environment, args []string, out io.Writer) error {
	alg := env.algorithm(args, 1)
	return env.withManager(ctx, func(m *checksum.Manager) error {
		v, err := m.Get(ctx, args[0], alg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", alg, v)
		return nil
	})
}

func runSet(ctx context.Context, env *environment, args []string, _ io.Writer) error {
	if _, err := checksum.ParseAlgorithm(args[1]); err != nil {
		return err
	}
	return env.withManager(ctx, func(m *checksum.Manager) error {
		return m.Set(ctx, args[0], strings.ToUpper(args[1]), args[2])
	})
}

func runDel(ctx context.Context, env *environment, args []string, _ io.Writer) error {
	return env.withManager(ctx, func(m *checksum.Manager) error {
		return m.Del(ctx, args[0])
	})
}

func runVerify(ctx context.Context, env *environment, args []string, out io.Writer) error {
	alg := env.algorithm(args, 1)
	return env.withManager(ctx, func(m *checksum.Manager) error {
		ok, err := m.Verify(ctx, args[0], alg, strings.ToLower(args[2]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "%s MISMATCH %s\n", alg, args[0])
			return errMismatch
		}
		fmt.Fprintf(out, "%s OK %s\n", alg, args[0])
		return nil
	})
}

func runList(ctx context.Context, env *environment, args []string, out io.Writer) error {
	return env.withManager(ctx, func(m *checksum.Manager) error {
		names, err := m.List(ctx, args[0])
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	})
}

// runPut copies a local file through the gateway write path, so the
// sidecar is produced by the same accumulator a mounted client would use.
func runPut(ctx context.Context, env *environment, args []string, out io.Writer) error {
	src, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	fs := env.adapter.FileSystem()
	dst, err := fs.Open(ctx, env.id, args[1], types.WriteOnly|types.Create|types.Truncate)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Release()
		return err
	}
	res, err := dst.Close(ctx)
	if err != nil {
		return err
	}
	if res.ChecksumErr != nil {
		return fmt.Errorf("%s written, checksums not stored: %w", res.Path, res.ChecksumErr)
	}
	if res.Checksums != nil {
		for _, rec := range res.Checksums.Records() {
			fmt.Fprintf(out, "%s %s\n", rec.Name, rec.Value)
		}
	}
	return nil
}

func runRemove(ctx context.Context, env *environment, args []string, _ io.Writer) error {
	return env.adapter.FileSystem().Remove(ctx, env.id, args[0])
}

func runNames(_ context.Context, _ *environment, _ []string, out io.Writer) error {
	for _, name := range checksum.Names() {
		size, err := checksum.Size(name)
		if err != nil {
			return err
		}
		if size == 0 {
			fmt.Fprintf(out, "%s\tvariable\n", name)
			continue
		}
		fmt.Fprintf(out, "%s\t%d\n", name, size)
	}
	return nil
}
