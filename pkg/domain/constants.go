package domain

import "math"

// Математические константы
const (
	Epsilon = 1e-9
)

// Ограничения модели
const (
	MaxNX          = 200
	MaxNY          = 200
	MaxNZ          = 100
	MaxWellNameLen = 50
)

// Параметры по умолчанию для величин, которых нет в колоде
const (
	DefaultOilViscosity   = 1.0  // cP
	DefaultGasViscosity   = 0.02 // cP
	DefaultWaterViscosity = 0.5  // cP
	DefaultOilDensity     = 800.0
	DefaultWaterDensity   = 1000.0
	DefaultGasDensity     = 1.0
	DefaultStartDate      = "2020-01-01"
	DefaultInitialSw      = 0.2
)

// FloatEquals сравнивает два float64 с учётом Epsilon
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// IsZero проверяет, равно ли значение нулю
func IsZero(v float64) bool {
	return math.Abs(v) < Epsilon
}

// IsPositive проверяет, положительно ли значение
func IsPositive(v float64) bool {
	return v > Epsilon
}
