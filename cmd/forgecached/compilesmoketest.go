package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/compiler"
	"github.com/standardbeagle/forgecache/internal/depval"
	"github.com/standardbeagle/forgecache/internal/store"
	"github.com/standardbeagle/forgecache/internal/workpool"
)

const (
	smokeTargetCode  uint64 = 1
	smokeLogChunk    uint64 = 0xF0
	smokePayloadCode uint64 = 2
)

// echoOperation compiles the requested initializer list into a single
// target whose payload is just those names, each followed by a newline —
// enough to prove the registry/dispatcher/marker path actually runs a
// compile and caches its result.
type echoOperation struct {
	initializers []string
}

func (o *echoOperation) TargetCount() int        { return 1 }
func (o *echoOperation) TargetCode(i int) uint64 { return smokeTargetCode }
func (o *echoOperation) SerializeTarget(i int) (artifact.SerializedTarget, error) {
	var payload []byte
	for _, s := range o.initializers {
		payload = append(payload, []byte(s+"\n")...)
	}
	return artifact.SerializedTarget{
		TargetCode: smokeTargetCode,
		Artifacts: []artifact.Artifact{
			{ChunkTypeCode: smokePayloadCode, Version: 1, Name: "echo", Payload: payload},
		},
		DepVal: depval.NoHandle,
	}, nil
}

var compileSmokeTestCommand = &cli.Command{
	Name:  "compile-smoke-test",
	Usage: "exercise the compiler registry and dispatcher end-to-end against a synthetic in-process backend",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "initializer", Usage: "initializer string to feed the synthetic compiler (repeatable)"},
	},
	Action: func(c *cli.Context) error {
		initializers := c.StringSlice("initializer")
		if len(initializers) == 0 {
			initializers = []string{"smoke.src"}
		}

		registry := compiler.NewRegistry()
		backend := compiler.Backend{
			ID:          "smoke-echo",
			DisplayName: "Smoke Echo Compiler",
			ShortName:   "smoke",
			Version:     compiler.Version{Major: 0, Minor: 1},
			Compile: func(initializers []string) (compiler.CompileOperation, error) {
				return &echoOperation{initializers: initializers}, nil
			},
		}
		if err := registry.Register(backend); err != nil {
			return fmt.Errorf("registering backend: %w", err)
		}
		registry.AssociateRequest(backend.ID, []uint64{smokeTargetCode}, "*")

		st := store.NewMemoryStore()
		pool := workpool.New(2)
		defer pool.Stop()
		sys := depval.NewSystem(statForDepVal)

		dispatcher := compiler.NewDispatcher(registry, st, pool, sys, smokeLogChunk)

		marker, err := dispatcher.Prepare(smokeTargetCode, initializers)
		if err != nil {
			return fmt.Errorf("preparing compile: %w", err)
		}

		coll, err := marker.GetArtifact(smokeTargetCode, nil)
		if err != nil {
			return fmt.Errorf("compiling: %w", err)
		}

		results, err := coll.ResolveRequests([]artifact.Request{
			{ChunkTypeCode: smokePayloadCode, Form: artifact.FormRawBytes},
		})
		if err != nil {
			return fmt.Errorf("resolving compiled artifact: %w", err)
		}

		fmt.Fprintf(os.Stdout, "state=%s\n", coll.State())
		for _, r := range results {
			os.Stdout.Write(r.Data)
		}
		return nil
	},
}
