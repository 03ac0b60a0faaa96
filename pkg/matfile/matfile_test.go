package matfile

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservoir/pkg/apperror"
)

func sampleVars() []*Variable {
	return []*Variable{
		NewVector("time", []float64{30, 60, 90}),
		// 2 ячейки x 3 шага, по столбцам
		NewMatrix("pressure", 2, 3, []float64{250, 249, 240, 239, 230, 229}),
		NewScalar("wallTime", 1.25),
		NewLogical("converged", true),
		NewChar("solver", "ad-ol"),
		NewStringCell("wellNames", "I1", "P1"),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"uncompressed", nil},
		{"compressed", []Option{WithCompression()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, sampleVars(), tc.opts...))

			f, err := Read(&buf)
			require.NoError(t, err)

			assert.Contains(t, f.Header, "MATLAB 5.0 MAT-file")
			assert.Equal(t, []string{"time", "pressure", "wallTime", "converged", "solver", "wellNames"}, f.Order)

			tv, ok := f.Float64s("time")
			require.True(t, ok)
			assert.Equal(t, []float64{30, 60, 90}, tv)

			p, ok := f.Get("pressure")
			require.True(t, ok)
			assert.Equal(t, ClassDouble, p.Class)
			assert.Equal(t, []int{2, 3}, p.Dims)
			assert.Equal(t, []float64{240, 239}, p.Column(1))
			assert.Equal(t, []float64{249, 239, 229}, p.Row(1))
			assert.Nil(t, p.Column(3))

			w, _ := f.Get("wallTime")
			x, ok := w.Scalar()
			require.True(t, ok)
			assert.Equal(t, 1.25, x)

			c, _ := f.Get("converged")
			assert.True(t, c.Logical)
			assert.Equal(t, []float64{1}, c.Data)

			s, _ := f.Get("solver")
			assert.Equal(t, "ad-ol", s.String())

			names, _ := f.Get("wellNames")
			assert.Equal(t, ClassCell, names.Class)
			assert.Equal(t, []string{"I1", "P1"}, names.Strings())
		})
	}
}

func TestCharMatrix_Rows(t *testing.T) {
	// две строки "ab " и "cde" по столбцам
	v := &Variable{Class: ClassChar, Dims: []int{2, 3}, Text: []rune("acbd e")}
	assert.Equal(t, []string{"ab", "cde"}, v.Strings())
}

// handMade собирает файл вручную: big-endian, компактный элемент имени,
// данные miINT16 в матрице класса double
func handMade(t *testing.T) []byte {
	t.Helper()
	be := binary.BigEndian
	var body bytes.Buffer
	put32 := func(v uint32) {
		var b [4]byte
		be.PutUint32(b[:], v)
		body.Write(b[:])
	}

	// флаги
	put32(miUINT32)
	put32(8)
	put32(uint32(ClassDouble))
	put32(0)
	// размеры 1x2
	put32(miINT32)
	put32(8)
	put32(1)
	put32(2)
	// имя "q" в компактном формате
	put32(1<<16 | miINT8)
	body.Write([]byte{'q', 0, 0, 0})
	// данные: два int16 = 4 байта, компактно
	put32(4<<16 | miINT16)
	body.Write([]byte{0xff, 0xfe, 0x00, 0x07})

	var out bytes.Buffer
	header := make([]byte, headerLength)
	copy(header, "MATLAB 5.0 MAT-file")
	be.PutUint16(header[124:], 0x0100)
	copy(header[126:], "MI")
	out.Write(header)

	var tag [8]byte
	be.PutUint32(tag[0:], miMATRIX)
	be.PutUint32(tag[4:], uint32(body.Len()))
	out.Write(tag[:])
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestRead_BigEndianSmallElements(t *testing.T) {
	f, err := Read(bytes.NewReader(handMade(t)))
	require.NoError(t, err)

	q, ok := f.Float64s("q")
	require.True(t, ok)
	assert.Equal(t, []float64{-2, 7}, q)
}

func TestRead_Corrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []*Variable{NewVector("x", []float64{1, 2, 3})}))
	good := buf.Bytes()

	cases := map[string][]byte{
		"short header":  good[:50],
		"bad endian":    append(append([]byte{}, good[:126]...), append([]byte("XX"), good[128:]...)...),
		"truncated":     good[:len(good)-10],
		"bad zlib data": compressedGarbage(good[:headerLength]),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(data))
			require.Error(t, err)
			assert.True(t, apperror.Is(err, apperror.CodeCorruptOutput), err.Error())
		})
	}
}

func compressedGarbage(header []byte) []byte {
	out := append([]byte{}, header...)
	var tag [8]byte
	le.PutUint32(tag[0:], miCOMPRESSED)
	le.PutUint32(tag[4:], 4)
	out = append(out, tag[:]...)
	return append(out, 1, 2, 3, 4)
}

func TestRead_SkipsUnsupportedClasses(t *testing.T) {
	var body bytes.Buffer
	body.Write(tagged(miUINT32, []byte{byte(ClassStruct), 0, 0, 0, 0, 0, 0, 0}))
	dims := make([]byte, 8)
	le.PutUint32(dims[0:], 1)
	le.PutUint32(dims[4:], 1)
	body.Write(tagged(miINT32, dims))
	body.Write(tagged(miINT8, []byte("s")))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	buf.Write(tagged(miMATRIX, body.Bytes()))
	wr := NewWriter(&buf)
	wr.header = true
	require.NoError(t, wr.Write(NewScalar("y", math.Pi)))

	f, err := Read(&buf)
	require.NoError(t, err)
	_, ok := f.Get("s")
	assert.False(t, ok)
	y, ok := f.Float64s("y")
	require.True(t, ok)
	assert.InDelta(t, math.Pi, y[0], 1e-15)
}

func TestWrite_Errors(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []*Variable{NewMatrix("bad", 2, 2, []float64{1})})
	assert.Error(t, err)

	err = Write(&buf, []*Variable{{Name: "i", Class: ClassInt32, Dims: []int{1, 1}, Data: []float64{1}}})
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.mat")
	require.NoError(t, WriteFile(path, sampleVars(), WithCompression()))

	f, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Vars, 6)

	_, err = ReadFile(filepath.Join(dir, "missing.mat"))
	assert.True(t, apperror.Is(err, apperror.CodeDataUnavailable))
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "double", ClassDouble.String())
	assert.Equal(t, "Class(99)", Class(99).String())
	assert.True(t, ClassInt64.IsNumeric())
	assert.False(t, ClassChar.IsNumeric())
}
