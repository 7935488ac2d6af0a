package chat

// Outcome is the result of a best-effort step. A failed step carries Err and
// never fails the turn; a step that did not apply is Skipped.
type Outcome[T any] struct {
	Value   T
	Err     error
	Skipped bool
}

// OK reports whether the step ran and succeeded.
func (o Outcome[T]) OK() bool {
	return !o.Skipped && o.Err == nil
}

func succeeded[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

func failed[T any](err error) Outcome[T] {
	return Outcome[T]{Err: err}
}

func skipped[T any]() Outcome[T] {
	return Outcome[T]{Skipped: true}
}
