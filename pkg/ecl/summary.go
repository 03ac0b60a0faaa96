package ecl

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"reservoir/pkg/apperror"
)

// dummyWellName имя в WGNAMES для полевых векторов
const dummyWellName = ":+:+:+:+"

// SummarySpec содержимое файла SMSPEC: описание векторов сводки
type SummarySpec struct {
	Keywords   []string
	Names      []string // WGNAMES
	Units      []string
	Nums       []int32
	UnitSystem UnitSystem
	Start      time.Time
	Dims       [3]int
}

// Key имя i-го вектора: "WBHP:PROD1" для скважин и групп, иначе "FOPR"
func (s *SummarySpec) Key(i int) string {
	kw := s.Keywords[i]
	name := ""
	if i < len(s.Names) {
		name = s.Names[i]
	}
	if name == "" || name == dummyWellName {
		return kw
	}
	if strings.HasPrefix(kw, "W") || strings.HasPrefix(kw, "G") {
		return kw + ":" + name
	}
	return kw
}

// Summary временные ряды сводки по министепам и отчётным шагам
type Summary struct {
	Spec *SummarySpec

	keys       []string
	index      map[string]int
	steps      [][]float32 // значения PARAMS по министепам
	reportEnds []int       // индекс последнего министепа каждого отчётного шага
}

// ReadSummarySpec читает SMSPEC
func ReadSummarySpec(r io.Reader) (*SummarySpec, error) {
	recs, err := ReadAll(r)
	if err != nil {
		return nil, err
	}

	spec := &SummarySpec{}
	for _, rec := range recs {
		switch rec.Name {
		case "KEYWORDS":
			spec.Keywords = rec.Strings
		case "WGNAMES", "NAMES":
			spec.Names = rec.Strings
		case "UNITS":
			spec.Units = rec.Strings
		case "NUMS":
			spec.Nums = rec.Ints
		case "INTEHEAD":
			if len(rec.Ints) > 0 {
				spec.UnitSystem = UnitSystem(rec.Ints[0])
			}
		case "DIMENS":
			if len(rec.Ints) >= 4 {
				spec.Dims = [3]int{int(rec.Ints[1]), int(rec.Ints[2]), int(rec.Ints[3])}
			}
		case "STARTDAT":
			if len(rec.Ints) >= 3 && rec.Ints[0] > 0 && rec.Ints[1] > 0 {
				spec.Start = time.Date(int(rec.Ints[2]), time.Month(rec.Ints[1]), int(rec.Ints[0]), 0, 0, 0, 0, time.UTC)
			}
		}
	}

	if len(spec.Keywords) == 0 {
		return nil, apperror.New(apperror.CodeCorruptOutput, "smspec: no KEYWORDS")
	}
	if len(spec.Names) != 0 && len(spec.Names) != len(spec.Keywords) {
		return nil, apperror.Newf(apperror.CodeCorruptOutput,
			"smspec: %d WGNAMES for %d KEYWORDS", len(spec.Names), len(spec.Keywords))
	}
	return spec, nil
}

// ReadSummary читает пару SMSPEC и UNSMRY
func ReadSummary(specR, dataR io.Reader) (*Summary, error) {
	spec, err := ReadSummarySpec(specR)
	if err != nil {
		return nil, err
	}

	s := &Summary{Spec: spec, index: make(map[string]int, len(spec.Keywords))}
	for i := range spec.Keywords {
		key := spec.Key(i)
		s.keys = append(s.keys, key)
		if _, dup := s.index[key]; !dup {
			s.index[key] = i
		}
	}

	rd := NewReader(dataR)
	inReport := false
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch rec.Name {
		case "SEQHDR":
			s.closeReport(inReport)
			inReport = true
		case "PARAMS":
			if len(rec.Reals) != len(spec.Keywords) {
				return nil, apperror.Newf(apperror.CodeCorruptOutput,
					"unsmry: PARAMS has %d values for %d vectors", len(rec.Reals), len(spec.Keywords))
			}
			s.steps = append(s.steps, rec.Reals)
		}
	}
	s.closeReport(inReport)
	return s, nil
}

// closeReport фиксирует конец отчётного шага, если в нём были министепы
func (s *Summary) closeReport(open bool) {
	if !open || len(s.steps) == 0 {
		return
	}
	last := len(s.steps) - 1
	if n := len(s.reportEnds); n > 0 && s.reportEnds[n-1] == last {
		return
	}
	s.reportEnds = append(s.reportEnds, last)
}

// ReadSummaryFiles читает сводку с диска
func ReadSummaryFiles(specPath, dataPath string) (*Summary, error) {
	specF, err := os.Open(specPath)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDataUnavailable, fmt.Sprintf("open summary spec %s", specPath))
	}
	defer specF.Close()

	dataF, err := os.Open(dataPath)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDataUnavailable, fmt.Sprintf("open summary data %s", dataPath))
	}
	defer dataF.Close()

	return ReadSummary(specF, dataF)
}

// Keys имена всех векторов в порядке SMSPEC
func (s *Summary) Keys() []string { return s.keys }

// Has проверяет наличие вектора
func (s *Summary) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Len число министепов
func (s *Summary) Len() int { return len(s.steps) }

// Vector значения вектора по всем министепам
func (s *Summary) Vector(key string) ([]float64, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(s.steps))
	for t, params := range s.steps {
		out[t] = float64(params[i])
	}
	return out, true
}

// ReportVector значения вектора в конце каждого отчётного шага
func (s *Summary) ReportVector(key string) ([]float64, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(s.reportEnds))
	for r, step := range s.reportEnds {
		out[r] = float64(s.steps[step][i])
	}
	return out, true
}

// ReportTimes значения TIME (сутки) в конце отчётных шагов
func (s *Summary) ReportTimes() []float64 {
	times, _ := s.ReportVector("TIME")
	return times
}

// Wells имена скважин, для которых есть векторы, в порядке появления
func (s *Summary) Wells() []string {
	seen := make(map[string]bool)
	var wells []string
	for i, kw := range s.Spec.Keywords {
		if !strings.HasPrefix(kw, "W") || i >= len(s.Spec.Names) {
			continue
		}
		name := s.Spec.Names[i]
		if name == "" || name == dummyWellName || seen[name] {
			continue
		}
		seen[name] = true
		wells = append(wells, name)
	}
	return wells
}

// WriteSummary пишет SMSPEC и UNSMRY. blocks: отчётные шаги, каждый из
// министепов, каждый министеп содержит по значению на вектор.
func WriteSummary(specW, dataW io.Writer, spec *SummarySpec, blocks [][][]float64) error {
	n := len(spec.Keywords)
	names := spec.Names
	if len(names) == 0 {
		names = make([]string, n)
		for i := range names {
			names[i] = dummyWellName
		}
	}
	nums := spec.Nums
	if len(nums) == 0 {
		nums = make([]int32, n)
	}
	units := spec.Units
	if len(units) == 0 {
		units = make([]string, n)
	}

	start := spec.Start
	if start.IsZero() {
		start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	err := WriteAll(specW,
		IntRecord("INTEHEAD", int32(spec.UnitSystem), 100),
		CharRecord("RESTART", make([]string, 9)...),
		IntRecord("DIMENS", int32(n), int32(spec.Dims[0]), int32(spec.Dims[1]), int32(spec.Dims[2]), 0, -1),
		CharRecord("KEYWORDS", spec.Keywords...),
		CharRecord("WGNAMES", names...),
		IntRecord("NUMS", nums...),
		CharRecord("UNITS", units...),
		IntRecord("STARTDAT", int32(start.Day()), int32(start.Month()), int32(start.Year())),
	)
	if err != nil {
		return err
	}

	wr := NewWriter(dataW)
	ministep := int32(0)
	for seq, block := range blocks {
		if err := wr.Write(IntRecord("SEQHDR", int32(seq))); err != nil {
			return err
		}
		for _, values := range block {
			if len(values) != n {
				return fmt.Errorf("ecl: ministep has %d values for %d vectors", len(values), n)
			}
			params := make([]float32, n)
			for i, v := range values {
				params[i] = float32(v)
			}
			if err := wr.Write(IntRecord("MINISTEP", ministep)); err != nil {
				return err
			}
			if err := wr.Write(RealRecord("PARAMS", params...)); err != nil {
				return err
			}
			ministep++
		}
	}
	return wr.Flush()
}
