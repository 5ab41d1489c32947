package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStack_Push(t *testing.T) {
	assert := assert.New(t)

	s := &Stack[uint32]{}
	assert.True(s.Empty())
	assert.False(s.Full())

	s.Push(0x12345678)
	assert.False(s.Empty())
	assert.Equal(1, s.Len())
	assert.Equal(uint32(0x12345678), s.Data[0])
}

func TestStack_Pop(t *testing.T) {
	assert := assert.New(t)

	s := &Stack[uint32]{}
	s.Push(0x12345678)
	s.Push(0xABCDEF01)

	val, ok := s.Pop()
	assert.True(ok)
	assert.Equal(uint32(0xABCDEF01), val)
	assert.Equal(1, s.Len())

	val, ok = s.Pop()
	assert.True(ok)
	assert.Equal(uint32(0x12345678), val)
	assert.Equal(0, s.Len())
}

func TestStack_Pop_Empty(t *testing.T) {
	assert := assert.New(t)

	s := &Stack[uint32]{}
	val, ok := s.Pop()
	assert.False(ok)
	assert.Equal(uint32(0), val)
}

func TestStack_Peek(t *testing.T) {
	assert := assert.New(t)

	s := &Stack[Frame]{}
	s.Push(Frame{Pc: 4})
	s.Push(Frame{Pc: 8})

	val, ok := s.Peek()
	assert.True(ok)
	assert.Equal(uint32(8), val.Pc)
	assert.Equal(2, s.Len())
}

func TestStack_Get(t *testing.T) {
	assert := assert.New(t)

	s := &Stack[uint32]{}
	s.Push(10)
	s.Push(20)

	val, ok := s.Get(0)
	assert.True(ok)
	assert.Equal(uint32(10), val)

	_, ok = s.Get(2)
	assert.False(ok)
	_, ok = s.Get(-1)
	assert.False(ok)
}

func TestStack_Capacity(t *testing.T) {
	assert := assert.New(t)

	s := &Stack[uint32]{Limit: 16}

	for i := range 16 {
		assert.False(s.Full())
		s.Push(uint32(i))
	}

	assert.True(s.Full())
	assert.Equal(16, s.Len())

	// Unbounded
	u := &Stack[uint32]{}
	for i := range 1000 {
		u.Push(uint32(i))
	}
	assert.False(u.Full())
}

func TestStack_Reset(t *testing.T) {
	assert := assert.New(t)

	s := &Stack[uint32]{}
	s.Reset()
	assert.True(s.Empty())

	s.Push(0x12345678)
	s.Push(0xABCDEF01)
	assert.Equal(2, s.Len())

	s.Reset()
	assert.True(s.Empty())
	assert.Equal(0, s.Len())
}
