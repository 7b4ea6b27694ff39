package replicated

import "fmt"

// TypeMismatchError is the panic value raised when an accessor is used on a
// Value of another kind.
type TypeMismatchError struct {
	Want Kind
	Got  Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("replicated: type mismatch: want %s, got %s", e.Want, e.Got)
}
