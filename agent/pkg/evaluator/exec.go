package evaluator

import (
	"context"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const DefaultMaxSteps = 10_000_000

// fileOptions disables every optional language feature: no sets, no while
// loops, no top-level control flow, no global reassignment, no recursion.
var fileOptions = &syntax.FileOptions{}

// Exec runs src as a Starlark file with only globals predeclared and returns the
// globals it defined. The thread has no load hook, so load statements fail. Print
// output is discarded, and execution stops after maxSteps computation steps or
// when ctx is done.
func Exec(ctx context.Context, globals starlark.StringDict, src string, maxSteps uint64) (starlark.StringDict, error) {
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}

	thread := &starlark.Thread{
		Name:  "query",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	return starlark.ExecFileOptions(fileOptions, thread, "query", src, globals)
}
