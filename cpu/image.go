package cpu

import (
	"encoding/binary"
	"errors"
	"io"
)

// ReadImage reads a little-endian executable image.
func ReadImage(input io.Reader) (words []uint32, err error) {
	data, err := io.ReadAll(input)
	if err != nil {
		return
	}

	if len(data)%4 != 0 {
		err = ErrImageSize
		return
	}

	words = make([]uint32, len(data)/4)
	for n := range words {
		words[n] = binary.LittleEndian.Uint32(data[n*4:])
	}

	return
}

// WriteImage writes a little-endian executable image.
func WriteImage(output io.Writer, words []uint32) (err error) {
	err = binary.Write(output, binary.LittleEndian, words)
	if err != nil {
		err = errors.Join(ErrOutput, err)
		return
	}

	return
}
