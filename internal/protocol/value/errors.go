package value

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch    = errors.New("value: shape mismatch")
	ErrWidthOverflow    = errors.New("value: magnitude exceeds width")
	ErrUnsupportedShape = errors.New("value: unsupported shape")
	ErrMissingField     = errors.New("value: missing required field")
	ErrMalformed        = errors.New("value: malformed payload")
	ErrInvalidShape     = errors.New("value: invalid shape hint")
)

// PathError locates a codec failure inside a nested payload.
// Path uses JSONPath-like notation rooted at "$", e.g. "$.data[2].x".
type PathError struct {
	Path   string
	Err    error
	Detail string
}

func (e *PathError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v at %s", e.Err, e.Path)
	}
	return fmt.Sprintf("%v at %s: %s", e.Err, e.Path, e.Detail)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func pathErr(path string, err error, format string, args ...any) error {
	return &PathError{Path: path, Err: err, Detail: fmt.Sprintf(format, args...)}
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func fieldPath(path, name string) string {
	return path + "." + name
}
