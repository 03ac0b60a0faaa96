package ecl

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"reservoir/pkg/apperror"
)

// maxPrealloc ограничивает предварительное выделение памяти по счётчику из
// заголовка: повреждённый файл не должен заказывать гигабайты
const maxPrealloc = 1 << 20

// maxBlockBytes предел длины одной записи Фортрана
const maxBlockBytes = 1 << 20

// Reader последовательно читает ключевые слова
type Reader struct {
	r      *bufio.Reader
	offset int64
}

// NewReader создаёт читатель поверх r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next читает следующее ключевое слово. В конце файла возвращает io.EOF.
func (rd *Reader) Next() (*Record, error) {
	start := rd.offset
	header, err := rd.readBlock()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, rd.corrupt(start, "read header", err)
	}
	if len(header) != headerLength {
		return nil, rd.corrupt(start, fmt.Sprintf("header length %d, want %d", len(header), headerLength), nil)
	}

	name := strings.TrimRight(string(header[:nameLength]), " ")
	count := int(int32(binary.BigEndian.Uint32(header[8:12])))
	typ := Type(header[12:16])

	layout, ok := typeLayout[typ]
	if !ok {
		return nil, rd.corrupt(start, fmt.Sprintf("keyword %s: unknown type %q", name, typ), nil)
	}
	if count < 0 {
		return nil, rd.corrupt(start, fmt.Sprintf("keyword %s: negative count %d", name, count), nil)
	}

	rec := &Record{Name: name, Type: typ}
	if typ == TypeMess || count == 0 {
		return rec, nil
	}
	rd.alloc(rec, min(count, maxPrealloc))

	for read := 0; read < count; {
		block, err := rd.readBlock()
		if err != nil {
			return nil, rd.corrupt(rd.offset, fmt.Sprintf("keyword %s: read data", name), err)
		}
		if len(block)%layout.size != 0 {
			return nil, rd.corrupt(rd.offset, fmt.Sprintf("keyword %s: block of %d bytes is not a multiple of %d", name, len(block), layout.size), nil)
		}
		n := len(block) / layout.size
		if n == 0 || read+n > count {
			return nil, rd.corrupt(rd.offset, fmt.Sprintf("keyword %s: block of %d elements overflows count %d", name, n, count), nil)
		}
		decode(rec, block, n)
		read += n
	}
	return rec, nil
}

func (rd *Reader) alloc(rec *Record, n int) {
	switch rec.Type {
	case TypeInte:
		rec.Ints = make([]int32, 0, n)
	case TypeReal:
		rec.Reals = make([]float32, 0, n)
	case TypeDoub:
		rec.Doubles = make([]float64, 0, n)
	case TypeLogi:
		rec.Bools = make([]bool, 0, n)
	case TypeChar:
		rec.Strings = make([]string, 0, n)
	}
}

func decode(rec *Record, block []byte, n int) {
	be := binary.BigEndian
	for i := 0; i < n; i++ {
		switch rec.Type {
		case TypeInte:
			rec.Ints = append(rec.Ints, int32(be.Uint32(block[i*4:])))
		case TypeReal:
			rec.Reals = append(rec.Reals, math.Float32frombits(be.Uint32(block[i*4:])))
		case TypeDoub:
			rec.Doubles = append(rec.Doubles, math.Float64frombits(be.Uint64(block[i*8:])))
		case TypeLogi:
			rec.Bools = append(rec.Bools, be.Uint32(block[i*4:]) != 0)
		case TypeChar:
			rec.Strings = append(rec.Strings, strings.TrimRight(string(block[i*charLength:(i+1)*charLength]), " "))
		}
	}
}

// readBlock читает одну запись Фортрана: длина, данные, та же длина
func (rd *Reader) readBlock() ([]byte, error) {
	var lead [4]byte
	n, err := io.ReadFull(rd.r, lead[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}
	size := int32(binary.BigEndian.Uint32(lead[:]))
	if size < 0 || size > maxBlockBytes {
		return nil, fmt.Errorf("record length %d out of range", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(rd.r, data); err != nil {
		return nil, io.ErrUnexpectedEOF
	}

	var trail [4]byte
	if _, err := io.ReadFull(rd.r, trail[:]); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if tail := int32(binary.BigEndian.Uint32(trail[:])); tail != size {
		return nil, fmt.Errorf("record length markers differ: %d != %d", size, tail)
	}

	rd.offset += int64(size) + 8
	return data, nil
}

func (rd *Reader) corrupt(offset int64, msg string, cause error) error {
	full := fmt.Sprintf("ecl: offset %d: %s", offset, msg)
	if cause != nil {
		return apperror.Wrap(cause, apperror.CodeCorruptOutput, full).WithDetails("offset", offset)
	}
	return apperror.New(apperror.CodeCorruptOutput, full).WithDetails("offset", offset)
}

// ReadAll читает все ключевые слова потока
func ReadAll(r io.Reader) ([]*Record, error) {
	rd := NewReader(r)
	var recs []*Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}

// ReadFile читает все ключевые слова файла. Отсутствующий файл даёт
// ошибку DATA_UNAVAILABLE.
func ReadFile(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDataUnavailable, fmt.Sprintf("open %s", path))
	}
	defer f.Close()
	return ReadAll(f)
}

// Find возвращает первое ключевое слово с именем name
func Find(recs []*Record, name string) (*Record, bool) {
	for _, r := range recs {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}
