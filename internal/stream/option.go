package stream

import "errors"

// Kind is the state of one pull result.
type Kind int

const (
	// kindInvalid is the zero Option, returned alongside errors. It is none of the
	// three states.
	kindInvalid Kind = iota
	// KindValue carries a record.
	KindValue
	// KindAbsent means nothing is available for this pull; the stream continues.
	KindAbsent
	// KindEndOfStream means the source is exhausted.
	KindEndOfStream
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindAbsent:
		return "absent"
	case KindEndOfStream:
		return "end_of_stream"
	default:
		return "invalid"
	}
}

// Option is the closed three-state result of a pull.
type Option[T any] struct {
	kind  Kind
	value T
}

// Some wraps a present value.
func Some[T any](value T) Option[T] {
	return Option[T]{kind: KindValue, value: value}
}

// Absent returns the no-value-this-pull state.
func Absent[T any]() Option[T] {
	return Option[T]{kind: KindAbsent}
}

// EndOfStream returns the exhausted state.
func EndOfStream[T any]() Option[T] {
	return Option[T]{kind: KindEndOfStream}
}

// Kind reports which state the option is in.
func (o Option[T]) Kind() Kind {
	return o.kind
}

// Valid reports whether o is one of the three states. The zero Option is not.
func (o Option[T]) Valid() bool {
	switch o.kind {
	case KindValue, KindAbsent, KindEndOfStream:
		return true
	}
	return false
}

// Get returns the value and whether one is present.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.kind == KindValue
}

// IsEndOfStream reports whether the source is exhausted.
func (o Option[T]) IsEndOfStream() bool {
	return o.kind == KindEndOfStream
}

// ErrInvalidOption is returned when the zero Option is used as a pull result.
var ErrInvalidOption = errors.New("invalid pull result")

// Map converts a present value with fn and passes the other two states through.
func Map[T, U any](o Option[T], fn func(T) (U, error)) (Option[U], error) {
	switch o.kind {
	case KindValue:
		out, err := fn(o.value)
		if err != nil {
			return Option[U]{}, err
		}
		return Some(out), nil
	case KindEndOfStream:
		return EndOfStream[U](), nil
	case KindAbsent:
		return Absent[U](), nil
	default:
		return Option[U]{}, ErrInvalidOption
	}
}
