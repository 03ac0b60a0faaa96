package matfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

var le = binary.LittleEndian

// Writer пишет переменные в MAT-файл уровня 5 (little-endian)
type Writer struct {
	w        io.Writer
	compress bool
	header   bool
}

// Option настройка писателя
type Option func(*Writer)

// WithCompression включает сжатие каждой переменной (формат -v7)
func WithCompression() Option {
	return func(w *Writer) { w.compress = true }
}

// NewWriter создаёт писатель. Заголовок пишется при первой записи.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	wr := &Writer{w: w}
	for _, opt := range opts {
		opt(wr)
	}
	return wr
}

func (wr *Writer) writeHeader() error {
	var header [headerLength]byte
	text := fmt.Sprintf("MATLAB 5.0 MAT-file, Platform: GLNXA64, Created on: %s by simctl",
		time.Now().UTC().Format("Mon Jan _2 15:04:05 2006"))
	copy(header[:], text)
	for i := len(text); i < textLength; i++ {
		header[i] = ' '
	}
	le.PutUint16(header[124:], 0x0100)
	copy(header[126:], "IM")
	_, err := wr.w.Write(header[:])
	return err
}

// Write пишет одну переменную
func (wr *Writer) Write(v *Variable) error {
	if !wr.header {
		if err := wr.writeHeader(); err != nil {
			return err
		}
		wr.header = true
	}

	body, err := encodeMatrix(v)
	if err != nil {
		return err
	}
	elem := tagged(miMATRIX, body)

	if wr.compress {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(elem); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		// сжатый элемент не выравнивается
		var tag [8]byte
		le.PutUint32(tag[0:], miCOMPRESSED)
		le.PutUint32(tag[4:], uint32(zbuf.Len()))
		if _, err := wr.w.Write(tag[:]); err != nil {
			return err
		}
		_, err := wr.w.Write(zbuf.Bytes())
		return err
	}

	_, err = wr.w.Write(elem)
	return err
}

// Write пишет набор переменных в w
func Write(w io.Writer, vars []*Variable, opts ...Option) error {
	wr := NewWriter(w, opts...)
	if len(vars) == 0 {
		return wr.writeHeader()
	}
	for _, v := range vars {
		if err := wr.Write(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile создаёт MAT-файл с переменными
func WriteFile(path string, vars []*Variable, opts ...Option) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, vars, opts...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// tagged оборачивает данные в тег с выравниванием на 8 байт
func tagged(typ uint32, data []byte) []byte {
	pad := (8 - len(data)%8) % 8
	out := make([]byte, 8+len(data)+pad)
	le.PutUint32(out[0:], typ)
	le.PutUint32(out[4:], uint32(len(data)))
	copy(out[8:], data)
	return out
}

func encodeMatrix(v *Variable) ([]byte, error) {
	dims := v.Dims
	if len(dims) == 0 {
		dims = []int{0, 0}
	}
	if len(dims) == 1 {
		dims = []int{dims[0], 1}
	}
	n := 1
	for _, d := range dims {
		n *= d
	}

	var buf bytes.Buffer

	flags := make([]byte, 8)
	word := uint32(v.Class)
	if v.Logical {
		word |= flagLogical
	}
	le.PutUint32(flags, word)
	buf.Write(tagged(miUINT32, flags))

	dimBytes := make([]byte, 4*len(dims))
	for i, d := range dims {
		le.PutUint32(dimBytes[i*4:], uint32(int32(d)))
	}
	buf.Write(tagged(miINT32, dimBytes))
	buf.Write(tagged(miINT8, []byte(v.Name)))

	switch {
	case v.Class == ClassChar:
		if len(v.Text) != n {
			return nil, fmt.Errorf("matfile: %s: %d chars for dims %v", v.Name, len(v.Text), dims)
		}
		data := make([]byte, 2*n)
		for i, r := range v.Text {
			le.PutUint16(data[i*2:], uint16(r))
		}
		buf.Write(tagged(miUINT16, data))
	case v.Class == ClassCell:
		if len(v.Cells) != n {
			return nil, fmt.Errorf("matfile: %s: %d cells for dims %v", v.Name, len(v.Cells), dims)
		}
		for _, c := range v.Cells {
			inner, err := encodeMatrix(&Variable{
				Class: c.Class, Dims: c.Dims, Logical: c.Logical,
				Data: c.Data, Text: c.Text, Cells: c.Cells,
			})
			if err != nil {
				return nil, err
			}
			buf.Write(tagged(miMATRIX, inner))
		}
	case v.Class == ClassDouble:
		if len(v.Data) != n {
			return nil, fmt.Errorf("matfile: %s: %d values for dims %v", v.Name, len(v.Data), dims)
		}
		data := make([]byte, 8*n)
		for i, x := range v.Data {
			le.PutUint64(data[i*8:], math.Float64bits(x))
		}
		buf.Write(tagged(miDOUBLE, data))
	case v.Class == ClassUint8:
		if len(v.Data) != n {
			return nil, fmt.Errorf("matfile: %s: %d values for dims %v", v.Name, len(v.Data), dims)
		}
		data := make([]byte, n)
		for i, x := range v.Data {
			data[i] = uint8(x)
		}
		buf.Write(tagged(miUINT8, data))
	default:
		return nil, fmt.Errorf("matfile: %s: writing class %s is not supported", v.Name, v.Class)
	}
	return buf.Bytes(), nil
}
