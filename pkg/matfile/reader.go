package matfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"reservoir/pkg/apperror"
)

const (
	headerLength = 128
	textLength   = 116

	// Предел распакованного размера одного сжатого элемента
	maxInflated = 1 << 31
)

func corrupt(format string, args ...any) error {
	return apperror.Newf(apperror.CodeCorruptOutput, "matfile: "+format, args...)
}

// Read разбирает MAT-файл уровня 5 целиком
func Read(r io.Reader) (*File, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, corrupt("short header: %v", err)
	}

	var order binary.ByteOrder
	switch string(header[126:128]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, corrupt("bad endian indicator %q", header[126:128])
	}
	if v := order.Uint16(header[124:126]); v != 0x0100 {
		return nil, corrupt("unsupported version 0x%04x", v)
	}

	f := &File{
		Header: strings.TrimRight(string(header[:textLength]), " \x00"),
		Vars:   make(map[string]*Variable),
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDataUnavailable, "matfile: read body")
	}
	d := &decoder{order: order}
	if err := d.topLevel(f, body); err != nil {
		return nil, err
	}
	return f, nil
}

// ReadFile читает MAT-файл с диска
func ReadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDataUnavailable, fmt.Sprintf("open mat file %s", path))
	}
	defer fh.Close()
	return Read(fh)
}

type decoder struct {
	order binary.ByteOrder
}

// element один элемент данных: тип и полезная нагрузка
type element struct {
	typ  uint32
	data []byte
}

// next отрезает очередной элемент от buf. Учитывает компактный формат
// (данные до 4 байт внутри тега) и выравнивание на 8 байт.
func (d *decoder) next(buf []byte) (element, []byte, error) {
	if len(buf) < 8 {
		return element{}, nil, corrupt("truncated tag (%d bytes left)", len(buf))
	}
	first := d.order.Uint32(buf[0:4])
	if small := first >> 16; small != 0 {
		n := int(small)
		if n > 4 {
			return element{}, nil, corrupt("small element of %d bytes", n)
		}
		return element{typ: first & 0xffff, data: buf[4 : 4+n]}, buf[8:], nil
	}

	n := uint64(d.order.Uint32(buf[4:8]))
	if n > uint64(len(buf)-8) {
		return element{}, nil, corrupt("element type %d needs %d bytes, %d left", first, n, len(buf)-8)
	}
	el := element{typ: first, data: buf[8 : 8+n]}
	rest := buf[8+n:]
	if first != miCOMPRESSED {
		pad := int((8 - n%8) % 8)
		if pad > len(rest) {
			pad = len(rest)
		}
		rest = rest[pad:]
	}
	return el, rest, nil
}

func (d *decoder) topLevel(f *File, buf []byte) error {
	for len(buf) > 0 {
		el, rest, err := d.next(buf)
		if err != nil {
			return err
		}
		buf = rest

		switch el.typ {
		case miCOMPRESSED:
			inflated, err := inflate(el.data)
			if err != nil {
				return err
			}
			if err := d.topLevel(f, inflated); err != nil {
				return err
			}
		case miMATRIX:
			v, err := d.matrix(el.data)
			if err != nil {
				return err
			}
			if v == nil {
				continue
			}
			if _, dup := f.Vars[v.Name]; !dup {
				f.Order = append(f.Order, v.Name)
			}
			f.Vars[v.Name] = v
		}
	}
	return nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt("compressed element: %v", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxInflated))
	if err != nil {
		return nil, corrupt("inflate: %v", err)
	}
	return out, nil
}

// matrix разбирает содержимое miMATRIX. Возвращает nil для пустого
// элемента и для неподдерживаемых классов.
func (d *decoder) matrix(buf []byte) (*Variable, error) {
	if len(buf) == 0 {
		return nil, nil
	}

	flagsEl, buf, err := d.next(buf)
	if err != nil {
		return nil, err
	}
	if flagsEl.typ != miUINT32 || len(flagsEl.data) < 8 {
		return nil, corrupt("bad array flags")
	}
	word := d.order.Uint32(flagsEl.data[0:4])
	v := &Variable{
		Class:   Class(word & 0xff),
		Logical: word&flagLogical != 0,
	}

	dimsEl, buf, err := d.next(buf)
	if err != nil {
		return nil, err
	}
	dims, err := d.numbers(dimsEl)
	if err != nil {
		return nil, err
	}
	for _, x := range dims {
		if x < 0 {
			return nil, corrupt("negative dimension")
		}
		v.Dims = append(v.Dims, int(x))
	}

	nameEl, buf, err := d.next(buf)
	if err != nil {
		return nil, err
	}
	v.Name = string(nameEl.data)

	switch {
	case v.Class.IsNumeric():
		realEl, _, err := d.next(buf)
		if err != nil {
			return nil, err
		}
		if v.Data, err = d.numbers(realEl); err != nil {
			return nil, err
		}
		// мнимая часть (flagComplex) отбрасывается
	case v.Class == ClassChar:
		textEl, _, err := d.next(buf)
		if err != nil {
			return nil, err
		}
		if v.Text, err = d.runes(textEl); err != nil {
			return nil, err
		}
	case v.Class == ClassCell:
		n := v.Len()
		for i := 0; i < n; i++ {
			var cellEl element
			cellEl, buf, err = d.next(buf)
			if err != nil {
				return nil, err
			}
			if cellEl.typ != miMATRIX {
				return nil, corrupt("cell %s[%d]: element type %d", v.Name, i, cellEl.typ)
			}
			cell, err := d.matrix(cellEl.data)
			if err != nil {
				return nil, err
			}
			if cell == nil {
				cell = &Variable{Class: ClassDouble}
			}
			v.Cells = append(v.Cells, cell)
		}
	default:
		// struct, object, sparse
		return nil, nil
	}
	return v, nil
}

// numbers переводит любой числовой элемент в float64
func (d *decoder) numbers(el element) ([]float64, error) {
	size := map[uint32]int{
		miINT8: 1, miUINT8: 1, miINT16: 2, miUINT16: 2, miINT32: 4, miUINT32: 4,
		miSINGLE: 4, miDOUBLE: 8, miINT64: 8, miUINT64: 8,
	}[el.typ]
	if size == 0 {
		return nil, corrupt("element type %d is not numeric", el.typ)
	}
	if len(el.data)%size != 0 {
		return nil, corrupt("element type %d: %d bytes is not a multiple of %d", el.typ, len(el.data), size)
	}

	out := make([]float64, len(el.data)/size)
	for i := range out {
		b := el.data[i*size : (i+1)*size]
		switch el.typ {
		case miINT8:
			out[i] = float64(int8(b[0]))
		case miUINT8:
			out[i] = float64(b[0])
		case miINT16:
			out[i] = float64(int16(d.order.Uint16(b)))
		case miUINT16:
			out[i] = float64(d.order.Uint16(b))
		case miINT32:
			out[i] = float64(int32(d.order.Uint32(b)))
		case miUINT32:
			out[i] = float64(d.order.Uint32(b))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(d.order.Uint32(b)))
		case miDOUBLE:
			out[i] = math.Float64frombits(d.order.Uint64(b))
		case miINT64:
			out[i] = float64(int64(d.order.Uint64(b)))
		case miUINT64:
			out[i] = float64(d.order.Uint64(b))
		}
	}
	return out, nil
}

// runes декодирует символьные данные
func (d *decoder) runes(el element) ([]rune, error) {
	switch el.typ {
	case miUTF8:
		if !utf8.Valid(el.data) {
			return nil, corrupt("invalid utf-8 text")
		}
		return []rune(string(el.data)), nil
	case miUTF16, miUINT16:
		units := make([]uint16, len(el.data)/2)
		for i := range units {
			units[i] = d.order.Uint16(el.data[i*2:])
		}
		if el.typ == miUINT16 {
			out := make([]rune, len(units))
			for i, u := range units {
				out[i] = rune(u)
			}
			return out, nil
		}
		return utf16.Decode(units), nil
	case miUTF32:
		out := make([]rune, len(el.data)/4)
		for i := range out {
			out[i] = rune(d.order.Uint32(el.data[i*4:]))
		}
		return out, nil
	}

	nums, err := d.numbers(el)
	if err != nil {
		return nil, err
	}
	out := make([]rune, len(nums))
	for i, x := range nums {
		out[i] = rune(x)
	}
	return out, nil
}
