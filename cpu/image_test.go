package cpu

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImage(t *testing.T) {
	assert := assert.New(t)

	asm := &Assembler{}
	prog, err := asm.Parse(strings.NewReader("li r1 0x12345\nprint r1\nexit\n"))
	assert.NoError(err)

	buf := &bytes.Buffer{}
	assert.NoError(WriteImage(buf, prog.Binary()))
	assert.Equal(16, buf.Len())
	assert.Equal(byte(0x45), buf.Bytes()[4]) // make32 immediate, low byte first

	words, err := ReadImage(buf)
	assert.NoError(err)
	assert.Equal(prog.Binary(), words)
}

func TestImage_Errors(t *testing.T) {
	assert := assert.New(t)

	_, err := ReadImage(bytes.NewReader([]byte{1, 2, 3, 4, 5}))
	assert.ErrorIs(err, ErrImageSize)

	words, err := ReadImage(bytes.NewReader(nil))
	assert.NoError(err)
	assert.Equal(0, len(words))

	err = WriteImage(failWriter{}, []uint32{1})
	assert.ErrorIs(err, ErrOutput)
}
