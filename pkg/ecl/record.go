// Package ecl читает и пишет последовательные бинарные файлы симулятора в
// формате ECLIPSE: записи Фортрана в big-endian, каждое ключевое слово
// состоит из заголовка (имя, число элементов, тип) и блоков данных.
package ecl

import (
	"fmt"
	"strings"
)

// Type тип элементов ключевого слова
type Type string

const (
	TypeInte Type = "INTE"
	TypeReal Type = "REAL"
	TypeDoub Type = "DOUB"
	TypeLogi Type = "LOGI"
	TypeChar Type = "CHAR"
	TypeMess Type = "MESS"
)

// Размер элемента в байтах и максимальное число элементов в одном блоке данных
var typeLayout = map[Type]struct{ size, block int }{
	TypeInte: {4, 1000},
	TypeReal: {4, 1000},
	TypeDoub: {8, 1000},
	TypeLogi: {4, 1000},
	TypeChar: {8, 105},
	TypeMess: {0, 0},
}

const (
	headerLength = 16
	nameLength   = 8
	charLength   = 8

	// logiTrue значение истины в файлах ECLIPSE
	logiTrue = int32(-1)
)

// Record одно ключевое слово файла. Заполнено только поле, соответствующее Type.
type Record struct {
	Name    string
	Type    Type
	Ints    []int32
	Reals   []float32
	Doubles []float64
	Bools   []bool
	Strings []string
}

// Len число элементов
func (r *Record) Len() int {
	switch r.Type {
	case TypeInte:
		return len(r.Ints)
	case TypeReal:
		return len(r.Reals)
	case TypeDoub:
		return len(r.Doubles)
	case TypeLogi:
		return len(r.Bools)
	case TypeChar:
		return len(r.Strings)
	}
	return 0
}

// Float64s возвращает числовые данные как float64. Для нечисловых типов nil.
func (r *Record) Float64s() []float64 {
	var out []float64
	switch r.Type {
	case TypeInte:
		out = make([]float64, len(r.Ints))
		for i, v := range r.Ints {
			out[i] = float64(v)
		}
	case TypeReal:
		out = make([]float64, len(r.Reals))
		for i, v := range r.Reals {
			out[i] = float64(v)
		}
	case TypeDoub:
		out = make([]float64, len(r.Doubles))
		copy(out, r.Doubles)
	}
	return out
}

// IsNumeric true для INTE, REAL и DOUB
func (r *Record) IsNumeric() bool {
	return r.Type == TypeInte || r.Type == TypeReal || r.Type == TypeDoub
}

func (r *Record) String() string {
	return fmt.Sprintf("%-8s %s[%d]", r.Name, r.Type, r.Len())
}

// Конструкторы записей

func IntRecord(name string, values ...int32) *Record {
	return &Record{Name: name, Type: TypeInte, Ints: values}
}

func RealRecord(name string, values ...float32) *Record {
	return &Record{Name: name, Type: TypeReal, Reals: values}
}

func DoubleRecord(name string, values ...float64) *Record {
	return &Record{Name: name, Type: TypeDoub, Doubles: values}
}

func LogiRecord(name string, values ...bool) *Record {
	return &Record{Name: name, Type: TypeLogi, Bools: values}
}

func CharRecord(name string, values ...string) *Record {
	return &Record{Name: name, Type: TypeChar, Strings: values}
}

func MessRecord(name string) *Record {
	return &Record{Name: name, Type: TypeMess}
}

// padName дополняет имя пробелами до фиксированной ширины
func padName(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
