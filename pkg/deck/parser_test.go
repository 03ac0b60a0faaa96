package deck

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
)

const sampleDeck = `-- sample FIELD deck
RUNSPEC
TITLE
Sample Case

DIMENS
 3 2 1 /

OIL
WATER
GAS
FIELD

START
 1 JAN 2015 /

GRID
DX
 6*100 /
DY
 6*200 /
DZ
 3*10 3*30 /
TOPS
 6*8000 /
PORO
 6*0.25 /
PERMX
 6*100 /

PROPS
DENSITY
 49.1 64.79 0.06054 /
PVTW
 4017.55 1.038 3.22E-6 0.318 0.0 /
PVDO
 400 1.0 1.16
 4000 0.99 1.2
/

SOLUTION
EQUIL
 8400 4800 8450 0 8300 0 /

SUMMARY
FOPR
WBHP
 'PROD' /

SCHEDULE
WELSPECS
 'INJ' 'G1' 1 1 8000 'GAS' /
 'PROD' 'G1' 3 2 8000 'OIL' /
/
COMPDAT
 'INJ' 1 1 1 1 'OPEN' /
 'PROD' 3 2 1 1 'OPEN' /
/
WCONPROD
 'PROD' 'OPEN' 'ORAT' 20000 4* 1000 /
/
WCONINJE
 'INJ' 'GAS' 'OPEN' 'RATE' 100000 1* 9014 /
/
TSTEP
 31 28 /
DATES
 1 APR 2015 /
/
END

IGNORED
 1 2 3 /
`

func TestParse_SampleDeck(t *testing.T) {
	res := Parse(sampleDeck)

	require.True(t, res.OK(), "errors: %v", res.Errors)
	assert.Empty(t, res.Unsupported)

	assert.Equal(t, "Sample Case", res.Title)
	assert.Equal(t, domain.UnitsField, res.Units)
	assert.Equal(t, []domain.Phase{domain.PhaseOil, domain.PhaseWater, domain.PhaseGas}, res.Phases)
	assert.Equal(t, []string{"RUNSPEC", "GRID", "PROPS", "SOLUTION", "SUMMARY", "SCHEDULE"}, res.Sections)
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), res.Start)

	assert.True(t, res.HasDimens)
	assert.Equal(t, [3]int{3, 2, 1}, res.Dimens)
	assert.Equal(t, []float64{10, 10, 10, 30, 30, 30}, res.Arrays["DZ"])
	assert.Len(t, res.Arrays["DX"], 6)

	require.NotNil(t, res.Density)
	assert.Equal(t, 49.1, res.Density.Oil)
	require.NotNil(t, res.PVTW)
	assert.Equal(t, 0.318, res.PVTW.Viscosity)
	require.Len(t, res.PVDO, 2)
	assert.Equal(t, PVTRow{Pressure: 400, FVF: 1.0, Viscosity: 1.16}, res.PVDO[0])
	require.NotNil(t, res.Equil)
	assert.Equal(t, 4800.0, res.Equil.DatumPressure)
	assert.Equal(t, 8300.0, res.Equil.GOCDepth)

	assert.Equal(t, []string{"FOPR", "WBHP"}, res.SummaryVectors)

	require.Len(t, res.WellSpecs, 2)
	assert.Equal(t, WellSpec{Name: "PROD", Group: "G1", I: 3, J: 2, RefDepth: 8000, Phase: "OIL", Line: 53}, res.WellSpecs[1])
	require.Len(t, res.Completions, 2)
	assert.Equal(t, "OPEN", res.Completions[0].Status)

	require.Len(t, res.Producers, 1)
	prod := res.Producers[0]
	assert.Equal(t, "ORAT", prod.Mode)
	assert.Equal(t, 20000.0, prod.ORAT)
	assert.Equal(t, 0.0, prod.WRAT)
	assert.Equal(t, 1000.0, prod.BHP)

	require.Len(t, res.Injectors, 1)
	assert.Equal(t, InjectorControl{Well: "INJ", Type: "GAS", Status: "OPEN", Mode: "RATE", Rate: 100000, BHP: 9014}, res.Injectors[0])

	require.Len(t, res.Schedule, 3)
	assert.Equal(t, 31.0, res.Schedule[0].Days)
	assert.Equal(t, 28.0, res.Schedule[1].Days)
	assert.True(t, res.Schedule[2].IsDate())
	assert.Equal(t, time.April, res.Schedule[2].Date.Month())
}

func TestParse_Include(t *testing.T) {
	files := map[string]string{
		"/decks/main.DATA":        "RUNSPEC\nINCLUDE\n 'include/grid.inc' /\nFIELD\n",
		"/decks/include/grid.inc": "DIMENS\n 2 2 2 /\nINCLUDE\n 'poro.inc' /\n",
		"/decks/include/poro.inc": "PORO\n 8*0.3 /\n",
	}
	p := NewParser(WithFileReader(fakeReader(files)))

	res, err := p.ParseFile("/decks/main.DATA")
	require.NoError(t, err)
	require.True(t, res.OK(), "errors: %v", res.Errors)

	assert.Equal(t, [3]int{2, 2, 2}, res.Dimens)
	assert.Len(t, res.Arrays["PORO"], 8)
	assert.Equal(t, domain.UnitsField, res.Units)
	assert.Equal(t, []string{"/decks/include/grid.inc", "/decks/include/poro.inc"}, res.Includes)
}

func TestParse_MissingIncludeIsWarning(t *testing.T) {
	p := NewParser(WithFileReader(fakeReader(map[string]string{
		"/d/main.DATA": "INCLUDE\n 'absent.inc' /\nDIMENS\n 1 1 1 /\n",
	})))

	res, err := p.ParseFile("/d/main.DATA")
	require.NoError(t, err)

	assert.True(t, res.OK())
	assert.True(t, res.HasDimens)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "absent.inc")
}

func TestParse_IncludeDepthCap(t *testing.T) {
	p := NewParser(
		WithMaxIncludeDepth(3),
		WithFileReader(fakeReader(map[string]string{
			"/d/loop.inc": "INCLUDE\n 'loop.inc' /\n",
		})),
	)

	res, err := p.ParseFile("/d/loop.inc")
	require.NoError(t, err)

	assert.Len(t, res.Includes, 3)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "exceeds depth 3")
}

func TestParseFile_MissingRoot(t *testing.T) {
	_, err := NewParser().ParseFile("/definitely/not/here.DATA")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestParseFile_RealFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/grid.inc", []byte("DIMENS\n 4 5 6 /\n"), 0o644))
	require.NoError(t, os.WriteFile(dir+"/case.DATA", []byte("RUNSPEC\nINCLUDE\n 'grid.inc' /\nEND\n"), 0o644))

	res, err := NewParser().ParseFile(dir + "/case.DATA")
	require.NoError(t, err)
	assert.Equal(t, [3]int{4, 5, 6}, res.Dimens)
}

func TestParse_UnsupportedKeywordIsFlagged(t *testing.T) {
	res := Parse("RUNSPEC\nDIMENS\n 1 1 1 /\nAQUFETP\n 1 2 3 /\n 4 5 6 /\nFIELD\n")

	assert.True(t, res.OK())
	assert.Equal(t, []string{"AQUFETP"}, res.Unsupported)
	assert.Equal(t, domain.UnitsField, res.Units)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "unsupported keyword AQUFETP at line 4")
}

func TestParse_RecoversFromBadRecord(t *testing.T) {
	res := Parse("DIMENS\n 2 1 1 /\nPORO\n 0.2 = 0.3 /\nPERMX\n 2*100 /\n")

	require.Len(t, res.Errors, 1)
	assert.Equal(t, apperror.CodeDeckSyntax, res.Errors[0].Code)
	assert.Contains(t, res.Errors[0].Message, "line 4")

	assert.NotContains(t, res.Arrays, "PORO")
	assert.Equal(t, []float64{100, 100}, res.Arrays["PERMX"])
}

func TestParse_RecoversFromStrayData(t *testing.T) {
	res := Parse("12 13 /\nDIMENS\n 1 2 3 /\n")

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "line 1, column 1")
	assert.Equal(t, [3]int{1, 2, 3}, res.Dimens)
}

func TestParse_UnterminatedRecord(t *testing.T) {
	res := Parse("DIMENS\n 1 2 3")

	assert.False(t, res.OK())
	assert.False(t, res.HasDimens)
	assert.Contains(t, res.Errors[0].Message, "unterminated record")
}

func TestParse_UnquotedNamesStayData(t *testing.T) {
	res := Parse("WELSPECS\n PROD1 G1 4 5 1* OIL /\n/\n")

	require.True(t, res.OK(), "errors: %v", res.Errors)
	require.Len(t, res.WellSpecs, 1)
	assert.Equal(t, "PROD1", res.WellSpecs[0].Name)
	assert.Equal(t, 4, res.WellSpecs[0].I)
	assert.Equal(t, 0.0, res.WellSpecs[0].RefDepth)
	assert.Empty(t, res.Unsupported)
}

func TestParse_IndentedKeywordIsFlagged(t *testing.T) {
	res := Parse("DIMENS\n 1 1 1 /\nEQUIL\n 8400 4800 /\n  FOOBAR\n 1 2 3 /\n")

	assert.Equal(t, []string{"FOOBAR"}, res.Unsupported)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "FOOBAR at line 5 column 3")
	assert.Equal(t, [3]int{1, 1, 1}, res.Dimens)
}

func TestParse_TstepRejectsNonPositive(t *testing.T) {
	res := Parse("TSTEP\n 10 0 5 /\n")

	require.Len(t, res.Errors, 1)
	assert.Len(t, res.Schedule, 2)
}

func TestParse_EndStopsParsing(t *testing.T) {
	res := Parse("DIMENS\n 1 1 1 /\nEND\nBOGUS\n 1 /\n")
	assert.Empty(t, res.Unsupported)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"1 JAN 2020", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"15 'JLY' 1999", time.Date(1999, 7, 15, 0, 0, 0, 0, time.UTC), true},
		{"31 dec 2010", time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{"31 FEB 2010", time.Time{}, false},
		{"JAN 2010", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "1 JAN 2015", FormatDate(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func fakeReader(files map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		data, ok := files[strings.ReplaceAll(path, "\\", "/")]
		if !ok {
			return nil, os.ErrNotExist
		}
		return []byte(data), nil
	}
}
