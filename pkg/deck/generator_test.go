package deck

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservoir/internal/testutil"
	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
)

func TestGenerate_SPE1(t *testing.T) {
	text, err := Generate(testutil.SPE1Request())
	require.NoError(t, err)

	assert.Contains(t, text, "10 10 3 /")
	assert.Contains(t, text, "'INJ1'")
	assert.Contains(t, text, "'PROD1'")
	assert.Contains(t, text, "TSTEP")
	assert.Contains(t, text, "120*30.4375 /")
	assert.Contains(t, text, "'GAS' 'OPEN' 'RATE'")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), "END"))

	// Разделы в фиксированном порядке
	last := -1
	for _, section := range []string{"RUNSPEC", "GRID", "PROPS", "SOLUTION", "SUMMARY", "SCHEDULE"} {
		idx := strings.Index(text, "\n"+section+"\n")
		require.Greater(t, idx, last, "section %s out of order", section)
		last = idx
	}
}

func TestGenerate_ParsesCleanly(t *testing.T) {
	for _, req := range []*domain.SimRequest{testutil.SPE1Request(), testutil.SmallRequest()} {
		t.Run(req.Title, func(t *testing.T) {
			text, err := Generate(req)
			require.NoError(t, err)

			res := Parse(text)
			assert.True(t, res.OK(), "errors: %v", res.Errors)
			assert.Empty(t, res.Unsupported)
			assert.Empty(t, res.Warnings)
			assert.Equal(t, domain.UnitsField, res.Units)
		})
	}
}

func TestGenerate_RoundTrip(t *testing.T) {
	approx := cmpopts.EquateApprox(1e-9, 1e-9)

	for _, orig := range []*domain.SimRequest{testutil.SPE1Request(), testutil.SmallRequest()} {
		t.Run(orig.Title, func(t *testing.T) {
			text, err := Generate(orig)
			require.NoError(t, err)

			got, err := ToSimRequest(Parse(text))
			require.NoError(t, err)
			require.NoError(t, got.Validate())

			if diff := cmp.Diff(orig.Grid, got.Grid, approx); diff != "" {
				t.Errorf("grid mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(orig.Wells, got.Wells, approx); diff != "" {
				t.Errorf("wells mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(orig.ReportTimes, got.ReportTimes, approx); diff != "" {
				t.Errorf("report times mismatch (-want +got):\n%s", diff)
			}

			assert.Equal(t, orig.Title, got.Title)
			assert.InDelta(t, orig.Fluid.InitialPressure, got.Fluid.InitialPressure, 1e-6)
			assert.InDelta(t, orig.Fluid.BubblePointPressure, got.Fluid.BubblePointPressure, 1e-6)
			assert.InDelta(t, orig.Fluid.OilDensity, got.Fluid.OilDensity, 1e-6)
			assert.Equal(t, orig.Fluid.OilViscosity, got.Fluid.OilViscosity)
			assert.Equal(t, orig.Fluid.WaterViscosity, got.Fluid.WaterViscosity)
		})
	}
}

func TestGenerate_StartDate(t *testing.T) {
	req := testutil.SPE1Request()
	text, err := Generate(req)
	require.NoError(t, err)
	assert.Contains(t, text, "START\n 1 JAN 2015 /")

	got, err := ToSimRequest(Parse(text))
	require.NoError(t, err)
	assert.Equal(t, "2015-01-01", got.StartDate)
}

func TestGenerate_BHPOnlyWells(t *testing.T) {
	req := testutil.SmallRequest()
	req.Wells[0].Rate = 0
	req.Wells[0].BHP = 300

	text, err := Generate(req)
	require.NoError(t, err)
	assert.Contains(t, text, "'I1' 'WATER' 'OPEN' 'BHP' 2*")
	assert.Contains(t, text, "'P1' 'OPEN' 'BHP' 5*")

	got, err := ToSimRequest(Parse(text))
	require.NoError(t, err)
	assert.Equal(t, domain.WellInjector, got.Wells[0].Type)
	assert.InDelta(t, 300, got.Wells[0].BHP, 1e-9)
	assert.False(t, got.Wells[0].HasRateTarget())
}

func TestGenerate_WellNames(t *testing.T) {
	req := testutil.SPE1Request()
	req.Wells[1].Name = "O-NEIL #2"

	text, err := Generate(req)
	require.NoError(t, err)
	res := Parse(text)
	require.Empty(t, res.Errors)

	got, err := ToSimRequest(res)
	require.NoError(t, err)
	require.Len(t, got.Wells, 2)
	assert.Equal(t, "O-NEIL #2", got.Wells[1].Name)
	assert.Equal(t, req.Wells[1].Type, got.Wells[1].Type)

	// кавычку в деке не записать, такое имя отклоняется до генерации
	req.Wells[1].Name = "O'NEIL"
	_, err = Generate(req)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidationFailed))
	assert.Contains(t, req.ValidationErrors().Messages()[0], "cannot quote")
}

func TestGenerate_Invalid(t *testing.T) {
	_, err := Generate(nil)
	assert.True(t, apperror.Is(err, apperror.CodeNilInput))

	req := testutil.SmallRequest()
	req.Grid.NX = 0
	_, err = Generate(req)
	assert.True(t, apperror.Is(err, apperror.CodeValidationFailed))
}

func TestRepeatNotation(t *testing.T) {
	assert.Equal(t, "3*30.0 15.0", repeatNotation([]float64{30, 30, 30, 15}))
	assert.Equal(t, "1.5 2*2.5 1.5", repeatNotation([]float64{1.5, 2.5, 2.5, 1.5}))
	assert.Equal(t, "", repeatNotation(nil))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "30.0", formatNumber(30))
	assert.Equal(t, "0.5", formatNumber(0.5))
	assert.Equal(t, "1e+21", formatNumber(1e21))

	// Повторный разбор даёт то же значение
	for _, v := range []float64{3280.839895013123, 1e-7, 123456789.125} {
		values := Tokenize(formatNumber(v))[0].Expand()
		require.Len(t, values, 1)
		assert.Equal(t, v, values[0].Num)
	}
}
