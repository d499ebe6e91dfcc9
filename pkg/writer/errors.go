package writer

import "fmt"

// WriteError wraps a SinkFailure (spec.md §7.1): any write or seek that
// the sink itself rejected, annotated with enough context to find the
// offending method without re-running the writer.
type WriteError struct {
	Op      string
	Context string
	Sink    string
	Err     error
}

func (e *WriteError) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("oatwriter: %s: %s: %v", e.Sink, e.Op, e.Err)
	}
	return fmt.Sprintf("oatwriter: %s: %s (%s): %v", e.Sink, e.Op, e.Context, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// InputContractError reports spec.md §7.3: a present code or stub blob
// with zero length, or an IsImage() facade with no ImageBinder
// supplied. Method counts come from the decoded ClassData slices, so
// there is no separate promised count to disagree with; a compiler
// returning different bytes across calls for the same method is not
// detected.
type InputContractError struct {
	Msg string
}

func (e *InputContractError) Error() string {
	return "oatwriter: input contract violation: " + e.Msg
}
