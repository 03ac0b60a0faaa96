// Package backend описывает контракт адаптера внешнего симулятора, реестр
// адаптеров и запуск подпроцессов.
//
// # Контракт
//
// Адаптер проходит три стадии:
//
//	problems := b.Validate(req)             // чистая функция, пусто = запрос допустим
//	raw, err := b.Run(ctx, req, dir, prog)  // блокирующий вызов, один подпроцесс
//	res := b.ParseResult(raw, req)          // всегда корректный UnifiedResult
//
// Ошибки инфраструктуры (нет бинарника, таймаут, ненулевой код выхода)
// возвращаются из Run и никогда не подавляются. Отсутствие ожидаемых файлов
// или массивов после формально успешного запуска превращается в результат
// со статусом FAILED и предупреждениями.
//
// # Прогресс
//
// Прогресс сообщается только на фиксированных вехах: старт, входные данные
// записаны, запуск завершён, разбор завершён.
package backend

import (
	"context"
	"time"

	"reservoir/pkg/domain"
)

// Вехи прогресса
const (
	ProgressStart        = 0.0
	ProgressInputWritten = 0.1
	ProgressRunComplete  = 0.8
	ProgressParsed       = 1.0
)

// ProgressFunc получает долю выполнения и короткое сообщение. Вызывается в
// горутине исполнителя и не должна блокироваться.
type ProgressFunc func(fraction float64, message string)

// Report безопасно вызывает fn, если она задана
func (fn ProgressFunc) Report(fraction float64, message string) {
	if fn != nil {
		fn(fraction, message)
	}
}

// Backend адаптер внешнего симулятора
type Backend interface {
	// Name уникальное имя в реестре ("opm", "mrst")
	Name() string
	Version() string
	Validate(req *domain.SimRequest) []string
	Run(ctx context.Context, req *domain.SimRequest, workDir string, progress ProgressFunc) (RawResult, error)
	ParseResult(raw RawResult, req *domain.SimRequest) *domain.UnifiedResult
	HealthCheck(ctx context.Context) error
}

// RawResult сырой результат запуска, помеченный типом адаптера. Реализуется
// только типами этого пакета, поэтому разбор перечисляет варианты полностью.
type RawResult interface {
	Backend() string
	rawResult()
}

// Execution итог одного подпроцесса
type Execution struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Truncated bool
}

// OPMOutput сырой результат OPM-адаптера: пути к выходным файлам и итог
// запуска. Файлы читаются при разборе.
type OPMOutput struct {
	WorkDir     string
	DeckPath    string
	CaseName    string
	RestartPath string
	SpecPath    string
	SummaryPath string
	LogPath     string
	Exec        Execution
	Warnings    []string
}

func (*OPMOutput) Backend() string { return "opm" }
func (*OPMOutput) rawResult()      {}

// MRSTOutput сырой результат MRST-адаптера
type MRSTOutput struct {
	WorkDir    string
	ScriptPath string
	ResultPath string
	Exec       Execution
	Warnings   []string
}

func (*MRSTOutput) Backend() string { return "mrst" }
func (*MRSTOutput) rawResult()      {}
