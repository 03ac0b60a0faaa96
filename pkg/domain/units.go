package domain

// Коэффициенты перевода из промысловой системы (FIELD) в каноническую.
// Каноническая система: метры, бар, м³/сут, кг/м³, сП, мД, сутки.
const (
	FootInMeters      = 0.3048
	PsiInBar          = 0.0689476
	StbInCubicMeters  = 0.158987294928
	MscfInCubicMeters = 28.316846592
	LbFt3InKgM3       = 16.0184634
	PascalInBar       = 1e-5
)

// UnitSystem система единиц колоды
type UnitSystem string

const (
	UnitsField  UnitSystem = "FIELD"
	UnitsMetric UnitSystem = "METRIC"
)

// FeetToM переводит футы в метры
func FeetToM(v float64) float64 { return v * FootInMeters }

// MToFeet переводит метры в футы
func MToFeet(v float64) float64 { return v / FootInMeters }

// PsiToBar переводит psi в бар
func PsiToBar(v float64) float64 { return v * PsiInBar }

// BarToPsi переводит бар в psi
func BarToPsi(v float64) float64 { return v / PsiInBar }

// StbToM3 переводит баррели (STB) в м³
func StbToM3(v float64) float64 { return v * StbInCubicMeters }

// M3ToStb переводит м³ в баррели
func M3ToStb(v float64) float64 { return v / StbInCubicMeters }

// MscfToM3 переводит тысячи кубических футов газа в м³
func MscfToM3(v float64) float64 { return v * MscfInCubicMeters }

// M3ToMscf переводит м³ газа в Mscf
func M3ToMscf(v float64) float64 { return v / MscfInCubicMeters }

// LbFt3ToKgM3 переводит lb/ft³ в кг/м³
func LbFt3ToKgM3(v float64) float64 { return v * LbFt3InKgM3 }

// KgM3ToLbFt3 переводит кг/м³ в lb/ft³
func KgM3ToLbFt3(v float64) float64 { return v / LbFt3InKgM3 }
