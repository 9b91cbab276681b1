package application

// Field is an optional input value. A zero Field means "leave unchanged".
type Field[T any] struct {
	Value   T
	Present bool
}

// Some wraps v as a present Field.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Present: true}
}
