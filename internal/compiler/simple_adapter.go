package compiler

import (
	"github.com/standardbeagle/forgecache/internal/artifact"
	"github.com/standardbeagle/forgecache/internal/depval"
)

// SimpleCompileFunc is the single-target compile shape §4.5.1 wraps:
// given the initializer set, produce artifacts, the DepVal covering
// the inputs consulted, and the target code those artifacts belong to.
type SimpleCompileFunc func(initializers []string) (arts []artifact.Artifact, dep depval.Handle, targetCode uint64, err error)

// SimpleAdapter wraps a SimpleCompileFunc into the full
// CompileOperation interface for backends that only ever produce one
// target per compile, per spec.md §4.5.1.
func SimpleAdapter(fn SimpleCompileFunc) CompileFunc {
	return func(initializers []string) (CompileOperation, error) {
		arts, dep, targetCode, err := fn(initializers)
		if err != nil {
			return nil, err
		}
		return &singleTargetOperation{
			targetCode: targetCode,
			target: artifact.SerializedTarget{
				TargetCode: targetCode,
				Artifacts:  arts,
				DepVal:     dep,
			},
		}, nil
	}
}

type singleTargetOperation struct {
	targetCode uint64
	target     artifact.SerializedTarget
}

func (o *singleTargetOperation) TargetCount() int        { return 1 }
func (o *singleTargetOperation) TargetCode(i int) uint64 { return o.targetCode }
func (o *singleTargetOperation) SerializeTarget(i int) (artifact.SerializedTarget, error) {
	return o.target, nil
}
