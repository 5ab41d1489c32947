package cpu

// Stack is a bounded LIFO, used for both the call frames and the stack
// pointer map.
type Stack[T any] struct {
	Data  []T
	Limit int // Maximum depth; zero for unbounded.
}

func (s *Stack[T]) Push(value T) {
	s.Data = append(s.Data, value)
}

func (s *Stack[T]) Pop() (value T, ok bool) {
	value, ok = s.Peek()
	if ok {
		s.Data = s.Data[:len(s.Data)-1]
	}
	return
}

func (s *Stack[T]) Empty() bool {
	return len(s.Data) == 0
}

func (s *Stack[T]) Full() bool {
	return s.Limit > 0 && len(s.Data) >= s.Limit
}

func (s *Stack[T]) Len() int {
	return len(s.Data)
}

func (s *Stack[T]) Peek() (value T, ok bool) {
	if s.Empty() {
		return
	}

	return s.Data[len(s.Data)-1], true
}

// Get returns the n'th entry from the bottom of the stack.
func (s *Stack[T]) Get(n int) (value T, ok bool) {
	if n < 0 || n >= len(s.Data) {
		return
	}

	return s.Data[n], true
}

func (s *Stack[T]) Reset() {
	if len(s.Data) > 0 {
		s.Data = s.Data[:0]
	}
}
