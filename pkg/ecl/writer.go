package ecl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Writer пишет ключевые слова в том же побайтовом формате, что и симулятор
type Writer struct {
	w   *bufio.Writer
	buf []byte
}

// NewWriter создаёт писатель поверх w. После записи нужен Flush.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write пишет одно ключевое слово: заголовок и блоки данных
func (wr *Writer) Write(rec *Record) error {
	layout, ok := typeLayout[rec.Type]
	if !ok {
		return fmt.Errorf("ecl: keyword %s: unknown type %q", rec.Name, rec.Type)
	}

	count := rec.Len()
	header := make([]byte, headerLength)
	copy(header, padName(rec.Name, nameLength))
	binary.BigEndian.PutUint32(header[8:12], uint32(int32(count)))
	copy(header[12:], padName(string(rec.Type), 4))
	if err := wr.block(header); err != nil {
		return err
	}

	for start := 0; start < count; start += layout.block {
		end := min(start+layout.block, count)
		if err := wr.block(wr.encode(rec, start, end, layout.size)); err != nil {
			return err
		}
	}
	return nil
}

func (wr *Writer) encode(rec *Record, start, end, size int) []byte {
	n := (end - start) * size
	if cap(wr.buf) < n {
		wr.buf = make([]byte, n)
	}
	buf := wr.buf[:n]

	be := binary.BigEndian
	for i := start; i < end; i++ {
		off := (i - start) * size
		switch rec.Type {
		case TypeInte:
			be.PutUint32(buf[off:], uint32(rec.Ints[i]))
		case TypeReal:
			be.PutUint32(buf[off:], math.Float32bits(rec.Reals[i]))
		case TypeDoub:
			be.PutUint64(buf[off:], math.Float64bits(rec.Doubles[i]))
		case TypeLogi:
			v := int32(0)
			if rec.Bools[i] {
				v = logiTrue
			}
			be.PutUint32(buf[off:], uint32(v))
		case TypeChar:
			copy(buf[off:off+charLength], padName(rec.Strings[i], charLength))
		}
	}
	return buf
}

func (wr *Writer) block(data []byte) error {
	var marker [4]byte
	binary.BigEndian.PutUint32(marker[:], uint32(len(data)))
	if _, err := wr.w.Write(marker[:]); err != nil {
		return err
	}
	if _, err := wr.w.Write(data); err != nil {
		return err
	}
	_, err := wr.w.Write(marker[:])
	return err
}

// Flush сбрасывает буфер
func (wr *Writer) Flush() error {
	return wr.w.Flush()
}

// WriteAll пишет ключевые слова и сбрасывает буфер
func WriteAll(w io.Writer, recs ...*Record) error {
	wr := NewWriter(w)
	for _, rec := range recs {
		if err := wr.Write(rec); err != nil {
			return err
		}
	}
	return wr.Flush()
}

// WriteFile создаёт файл с заданными ключевыми словами
func WriteFile(path string, recs ...*Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteAll(f, recs...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
