package ecl

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"reservoir/pkg/apperror"
)

// UnitSystem система единиц из INTEHEAD[2]
type UnitSystem int

const (
	UnitMetric UnitSystem = 1
	UnitField  UnitSystem = 2
	UnitLab    UnitSystem = 3
)

func (u UnitSystem) String() string {
	switch u {
	case UnitMetric:
		return "METRIC"
	case UnitField:
		return "FIELD"
	case UnitLab:
		return "LAB"
	}
	return fmt.Sprintf("UnitSystem(%d)", int(u))
}

// Позиции в INTEHEAD
const (
	inteheadLength = 411
	inteheadUnits  = 2
	inteheadDay    = 64
	inteheadMonth  = 65
	inteheadYear   = 66
)

// Служебные ключевые слова шага, не являющиеся массивами ячеек
var restartHeaders = map[string]bool{
	"SEQNUM": true, "INTEHEAD": true, "LOGIHEAD": true, "DOUBHEAD": true,
	"STARTSOL": true, "ENDSOL": true,
}

// Массивы, которые пишутся первыми, в этом порядке
var restartArrayOrder = []string{"PRESSURE", "SWAT", "SGAS", "RS", "RV"}

// RestartStep один шаг объединённого файла рестарта
type RestartStep struct {
	SeqNum int
	Days   float64 // DOUBHEAD[0], сутки от начала
	Date   time.Time
	Units  UnitSystem
	Arrays map[string][]float64
}

// Array возвращает массив ячеек по имени или nil
func (s *RestartStep) Array(name string) []float64 {
	return s.Arrays[name]
}

// ReadRestart разбирает объединённый рестарт (UNRST) на шаги. Каждый SEQNUM
// открывает новый шаг; файл без SEQNUM считается одним шагом.
func ReadRestart(r io.Reader) ([]RestartStep, error) {
	rd := NewReader(r)
	var steps []RestartStep
	var cur *RestartStep

	open := func(seq int) {
		steps = append(steps, RestartStep{SeqNum: seq, Arrays: make(map[string][]float64)})
		cur = &steps[len(steps)-1]
	}

	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return steps, err
		}

		if rec.Name == "SEQNUM" {
			seq := len(steps)
			if len(rec.Ints) > 0 {
				seq = int(rec.Ints[0])
			}
			open(seq)
			continue
		}
		if cur == nil {
			open(0)
		}

		switch rec.Name {
		case "INTEHEAD":
			applyIntehead(cur, rec.Ints)
		case "DOUBHEAD":
			if len(rec.Doubles) > 0 {
				cur.Days = rec.Doubles[0]
			}
		default:
			if restartHeaders[rec.Name] {
				continue
			}
			if rec.Type == TypeReal || rec.Type == TypeDoub {
				cur.Arrays[rec.Name] = rec.Float64s()
			}
		}
	}
	return steps, nil
}

func applyIntehead(step *RestartStep, ih []int32) {
	if len(ih) > inteheadUnits {
		step.Units = UnitSystem(ih[inteheadUnits])
	}
	if len(ih) > inteheadYear {
		day, month, year := int(ih[inteheadDay]), int(ih[inteheadMonth]), int(ih[inteheadYear])
		if day > 0 && month > 0 && year > 0 {
			step.Date = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		}
	}
}

// ReadRestartFile читает рестарт с диска
func ReadRestartFile(path string) ([]RestartStep, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDataUnavailable, fmt.Sprintf("open restart %s", path))
	}
	defer f.Close()
	return ReadRestart(f)
}

// WriteRestart пишет шаги в формате UNRST. Массивы хранятся как REAL, как
// это делает симулятор.
func WriteRestart(w io.Writer, steps []RestartStep) error {
	wr := NewWriter(w)
	for _, step := range steps {
		ih := make([]int32, inteheadLength)
		ih[inteheadUnits] = int32(step.Units)
		if !step.Date.IsZero() {
			ih[inteheadDay] = int32(step.Date.Day())
			ih[inteheadMonth] = int32(step.Date.Month())
			ih[inteheadYear] = int32(step.Date.Year())
		}

		recs := []*Record{
			IntRecord("SEQNUM", int32(step.SeqNum)),
			IntRecord("INTEHEAD", ih...),
			LogiRecord("LOGIHEAD", make([]bool, 121)...),
			DoubleRecord("DOUBHEAD", step.Days, 0, 0),
			MessRecord("STARTSOL"),
		}
		for _, name := range sortedArrayNames(step.Arrays) {
			values := step.Arrays[name]
			reals := make([]float32, len(values))
			for i, v := range values {
				reals[i] = float32(v)
			}
			recs = append(recs, RealRecord(name, reals...))
		}
		recs = append(recs, MessRecord("ENDSOL"))

		for _, rec := range recs {
			if err := wr.Write(rec); err != nil {
				return err
			}
		}
	}
	return wr.Flush()
}

func sortedArrayNames(arrays map[string][]float64) []string {
	names := make([]string, 0, len(arrays))
	for name := range arrays {
		names = append(names, name)
	}
	rank := func(name string) int {
		if i := slices.Index(restartArrayOrder, name); i >= 0 {
			return i
		}
		return len(restartArrayOrder)
	}
	slices.SortFunc(names, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(a, b)
	})
	return names
}
