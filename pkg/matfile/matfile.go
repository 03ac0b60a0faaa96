// Package matfile читает и пишет контейнер массивов MAT уровня 5 (формат
// MATLAB/Octave -v6/-v7), включая сжатые элементы. Поддерживаются числовые,
// логические, символьные массивы и массивы ячеек; структуры пропускаются.
package matfile

import (
	"fmt"
	"strings"
)

// Типы элементов данных (miXXX)
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
	miUTF32      = 18
)

// Class класс массива (mxXXX_CLASS)
type Class uint8

const (
	ClassCell   Class = 1
	ClassStruct Class = 2
	ClassObject Class = 3
	ClassChar   Class = 4
	ClassSparse Class = 5
	ClassDouble Class = 6
	ClassSingle Class = 7
	ClassInt8   Class = 8
	ClassUint8  Class = 9
	ClassInt16  Class = 10
	ClassUint16 Class = 11
	ClassInt32  Class = 12
	ClassUint32 Class = 13
	ClassInt64  Class = 14
	ClassUint64 Class = 15
)

var classNames = map[Class]string{
	ClassCell: "cell", ClassStruct: "struct", ClassObject: "object", ClassChar: "char",
	ClassSparse: "sparse", ClassDouble: "double", ClassSingle: "single",
	ClassInt8: "int8", ClassUint8: "uint8", ClassInt16: "int16", ClassUint16: "uint16",
	ClassInt32: "int32", ClassUint32: "uint32", ClassInt64: "int64", ClassUint64: "uint64",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// IsNumeric true для числовых классов
func (c Class) IsNumeric() bool {
	return c >= ClassDouble && c <= ClassUint64
}

// Флаги массива
const (
	flagComplex = 0x0800
	flagGlobal  = 0x0400
	flagLogical = 0x0200
)

// Variable одна переменная файла. Данные числовых массивов хранятся по
// столбцам, как в MATLAB.
type Variable struct {
	Name    string
	Class   Class
	Dims    []int
	Logical bool
	Data    []float64   // числовые и логические
	Text    []rune      // символьные, по столбцам
	Cells   []*Variable // ячейки, по столбцам
}

// Len число элементов
func (v *Variable) Len() int {
	if len(v.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range v.Dims {
		n *= d
	}
	return n
}

// Rows число строк
func (v *Variable) Rows() int {
	if len(v.Dims) == 0 {
		return 0
	}
	return v.Dims[0]
}

// Cols произведение остальных размерностей
func (v *Variable) Cols() int {
	if len(v.Dims) < 2 {
		return min(len(v.Dims), 1)
	}
	n := 1
	for _, d := range v.Dims[1:] {
		n *= d
	}
	return n
}

// Float64s числовые данные или nil
func (v *Variable) Float64s() []float64 {
	return v.Data
}

// Scalar первое значение числового массива
func (v *Variable) Scalar() (float64, bool) {
	if len(v.Data) == 0 {
		return 0, false
	}
	return v.Data[0], true
}

// Column возвращает j-й столбец матрицы
func (v *Variable) Column(j int) []float64 {
	rows := v.Rows()
	if j < 0 || j >= v.Cols() || len(v.Data) < (j+1)*rows {
		return nil
	}
	out := make([]float64, rows)
	copy(out, v.Data[j*rows:(j+1)*rows])
	return out
}

// Row возвращает i-ю строку матрицы
func (v *Variable) Row(i int) []float64 {
	rows, cols := v.Rows(), v.Cols()
	if i < 0 || i >= rows || len(v.Data) < rows*cols {
		return nil
	}
	out := make([]float64, cols)
	for j := range out {
		out[j] = v.Data[j*rows+i]
	}
	return out
}

// Strings текст как набор строк: строки символьной матрицы или элементы
// массива ячеек со строками. Хвостовые пробелы отбрасываются.
func (v *Variable) Strings() []string {
	switch v.Class {
	case ClassChar:
		rows, cols := v.Rows(), v.Cols()
		out := make([]string, rows)
		for i := 0; i < rows; i++ {
			line := make([]rune, 0, cols)
			for j := 0; j < cols && j*rows+i < len(v.Text); j++ {
				line = append(line, v.Text[j*rows+i])
			}
			out[i] = strings.TrimRight(string(line), " \x00")
		}
		return out
	case ClassCell:
		out := make([]string, 0, len(v.Cells))
		for _, c := range v.Cells {
			if c.Class == ClassChar {
				out = append(out, strings.Join(c.Strings(), ""))
			} else {
				out = append(out, "")
			}
		}
		return out
	}
	return nil
}

// String текст символьного массива одной строкой
func (v *Variable) String() string {
	return strings.Join(v.Strings(), "\n")
}

// File содержимое MAT-файла
type File struct {
	Header string
	Vars   map[string]*Variable
	Order  []string
}

// Get возвращает переменную по имени
func (f *File) Get(name string) (*Variable, bool) {
	v, ok := f.Vars[name]
	return v, ok
}

// Float64s числовые данные переменной
func (f *File) Float64s(name string) ([]float64, bool) {
	v, ok := f.Vars[name]
	if !ok || v.Data == nil {
		return nil, false
	}
	return v.Data, true
}

// Конструкторы для записи

// NewMatrix числовая матрица rows x cols, data по столбцам
func NewMatrix(name string, rows, cols int, data []float64) *Variable {
	return &Variable{Name: name, Class: ClassDouble, Dims: []int{rows, cols}, Data: data}
}

// NewVector вектор-столбец
func NewVector(name string, data []float64) *Variable {
	return NewMatrix(name, len(data), 1, data)
}

// NewScalar скаляр double
func NewScalar(name string, v float64) *Variable {
	return NewMatrix(name, 1, 1, []float64{v})
}

// NewLogical логический скаляр
func NewLogical(name string, v bool) *Variable {
	x := 0.0
	if v {
		x = 1
	}
	return &Variable{Name: name, Class: ClassUint8, Logical: true, Dims: []int{1, 1}, Data: []float64{x}}
}

// NewChar символьная строка 1 x n
func NewChar(name, text string) *Variable {
	r := []rune(text)
	return &Variable{Name: name, Class: ClassChar, Dims: []int{1, len(r)}, Text: r}
}

// NewStringCell массив ячеек 1 x n со строками
func NewStringCell(name string, values ...string) *Variable {
	cells := make([]*Variable, len(values))
	for i, s := range values {
		cells[i] = NewChar("", s)
	}
	return &Variable{Name: name, Class: ClassCell, Dims: []int{1, len(values)}, Cells: cells}
}
