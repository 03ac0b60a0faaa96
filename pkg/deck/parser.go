package deck

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reservoir/pkg/apperror"
	"reservoir/pkg/domain"
	"reservoir/pkg/logger"
)

// DefaultMaxIncludeDepth ограничение вложенности INCLUDE против циклов
const DefaultMaxIncludeDepth = 10

// keywordKind определяет, как читаются данные ключевого слова
type keywordKind int

const (
	kindRecords keywordKind = iota // записи до следующего ключевого слова
	kindTable                      // записи до пустой записи "/" или ключевого слова
	kindArray                      // ровно одна запись, возможно многострочная
	kindTitle
	kindInclude
	kindSection
	kindEnd
)

type keywordHandler func(p *parseState, tok Token, recs []Record)

type keywordSpec struct {
	kind   keywordKind
	handle keywordHandler
}

// Разделы колоды в фиксированном порядке
var sectionNames = []string{"RUNSPEC", "GRID", "EDIT", "PROPS", "REGIONS", "SOLUTION", "SUMMARY", "SCHEDULE"}

// gridArrays массивы сетки с раскрытием повторов
var gridArrays = []string{"DX", "DY", "DZ", "DXV", "DYV", "DZV", "TOPS", "PORO", "PERMX", "PERMY", "PERMZ", "NTG"}

// ignoredKeywords не влияют на модель скважин и сетки, читаются и отбрасываются молча
var ignoredKeywords = []string{
	"TABDIMS", "WELLDIMS", "EQLDIMS", "REGDIMS", "NSTACK", "MESSAGES", "UNIFOUT", "UNIFIN",
	"FMTOUT", "FMTIN", "NOECHO", "ECHO", "INIT", "GRIDFILE", "NONNC", "NOSIM", "RPTRST",
	"RPTSCHED", "RPTSOL", "RPTPROPS", "RPTGRID", "RPTRUNSP", "TUNING", "SATOPTS",
	// Относительные фазовые проницаемости: каноническая модель использует
	// фиксированные кривые Кори
	"SWOF", "SGOF",
}

var keywords = func() map[string]keywordSpec {
	m := map[string]keywordSpec{
		"TITLE":   {kind: kindTitle},
		"INCLUDE": {kind: kindInclude},
		"END":     {kind: kindEnd},

		"FIELD":  {kindRecords, func(p *parseState, _ Token, _ []Record) { p.res.Units = domain.UnitsField }},
		"METRIC": {kindRecords, func(p *parseState, _ Token, _ []Record) { p.res.Units = domain.UnitsMetric }},
		"OIL":    {kindRecords, func(p *parseState, _ Token, _ []Record) { p.res.addPhase(domain.PhaseOil) }},
		"WATER":  {kindRecords, func(p *parseState, _ Token, _ []Record) { p.res.addPhase(domain.PhaseWater) }},
		"GAS":    {kindRecords, func(p *parseState, _ Token, _ []Record) { p.res.addPhase(domain.PhaseGas) }},
		"DISGAS": {kindRecords, nil},
		"VAPOIL": {kindRecords, nil},

		"DIMENS":  {kindRecords, parseDimens},
		"START":   {kindRecords, parseStart},
		"EQUIL":   {kindRecords, parseEquil},
		"DENSITY": {kindRecords, parseDensity},
		"PVTW":    {kindRecords, parsePVTW},
		"ROCK":    {kindRecords, parseRock},
		"PVDO":    {kindRecords, func(p *parseState, tok Token, recs []Record) { p.res.PVDO = parsePVTTable(p, tok, recs) }},
		"PVDG":    {kindRecords, func(p *parseState, tok Token, recs []Record) { p.res.PVDG = parsePVTTable(p, tok, recs) }},

		"WELSPECS": {kindTable, parseWelspecs},
		"COMPDAT":  {kindTable, parseCompdat},
		"WCONPROD": {kindTable, parseWconprod},
		"WCONINJE": {kindTable, parseWconinje},
		"DATES":    {kindTable, parseDates},
		"TSTEP":    {kindArray, parseTstep},
	}
	for _, s := range sectionNames {
		m[s] = keywordSpec{kind: kindSection}
	}
	for _, a := range gridArrays {
		m[a] = keywordSpec{kindArray, parseGridArray}
	}
	for _, k := range ignoredKeywords {
		m[k] = keywordSpec{kindRecords, nil}
	}
	return m
}()

// Parser разбирает колоды. Безопасен для конкурентного использования:
// состояние разбора создаётся на каждый вызов.
type Parser struct {
	maxIncludeDepth int
	readFile        func(string) ([]byte, error)
}

// Option настройка парсера
type Option func(*Parser)

// WithMaxIncludeDepth задаёт предел вложенности INCLUDE
func WithMaxIncludeDepth(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxIncludeDepth = n
		}
	}
}

// WithFileReader подменяет чтение файлов (для тестов и встроенных колод)
func WithFileReader(fn func(string) ([]byte, error)) Option {
	return func(p *Parser) {
		if fn != nil {
			p.readFile = fn
		}
	}
}

// NewParser создаёт парсер
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		maxIncludeDepth: DefaultMaxIncludeDepth,
		readFile:        os.ReadFile,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile разбирает колоду из файла. Ошибка возвращается только если
// корневой файл не читается; синтаксические ошибки попадают в Errors.
func (p *Parser) ParseFile(path string) (*ParseResult, error) {
	data, err := p.readFile(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNotFound, fmt.Sprintf("read deck %s", path))
	}
	res := p.parse(string(data), filepath.Dir(path), path)
	return res, nil
}

// ParseString разбирает текст колоды; INCLUDE разрешаются относительно baseDir
func (p *Parser) ParseString(src, baseDir string) *ParseResult {
	return p.parse(src, baseDir, "")
}

// Parse разбирает текст парсером по умолчанию
func Parse(src string) *ParseResult {
	return NewParser().ParseString(src, ".")
}

func (p *Parser) parse(src, baseDir, path string) *ParseResult {
	st := &parseState{parser: p, res: newParseResult(path)}
	st.parseTokens(NewTokenStream(Tokenize(src)), baseDir, 0)

	logger.Log.Debug("deck parsed",
		"path", path,
		"sections", len(st.res.Sections),
		"wells", len(st.res.WellSpecs),
		"warnings", len(st.res.Warnings),
		"errors", len(st.res.Errors),
	)
	return st.res
}

// parseState изменяемый аккумулятор одного разбора
type parseState struct {
	parser  *Parser
	res     *ParseResult
	section string
	ended   bool
}

func (p *parseState) parseTokens(ts *TokenStream, baseDir string, depth int) {
	for !p.ended {
		ts.SkipTrivia()
		tok := ts.Peek(0)
		if tok.Type == TokenEOF {
			return
		}

		if tok.Type != TokenKeyword {
			p.res.addError(SyntaxError(tok, fmt.Sprintf("unexpected %s %q outside keyword data", tok.Type, tok.Text)))
			p.recoverToKeyword(ts)
			continue
		}
		ts.Next()
		p.dispatch(ts, tok, baseDir, depth)
	}
}

func (p *parseState) dispatch(ts *TokenStream, tok Token, baseDir string, depth int) {
	name := strings.ToUpper(tok.Text)
	spec, known := keywords[name]

	// В SUMMARY любое ключевое слово означает запрос вектора
	if !known && p.section == "SUMMARY" {
		p.res.SummaryVectors = append(p.res.SummaryVectors, name)
		p.readRecords(ts, false)
		return
	}
	if !known {
		p.res.addUnsupported(tok)
		p.readRecords(ts, false)
		return
	}

	switch spec.kind {
	case kindEnd:
		p.ended = true
	case kindSection:
		p.section = name
		p.res.Sections = append(p.res.Sections, name)
	case kindTitle:
		p.parseTitle(ts)
	case kindInclude:
		p.parseInclude(ts, tok, baseDir, depth)
	case kindArray:
		ts.SkipTrivia()
		if next := ts.Peek(0); isBoundary(next) || next.Type == TokenEOF {
			p.res.addError(SyntaxError(next, fmt.Sprintf("%s has no data", name)))
			return
		}
		rec, status := p.readRecord(ts)
		if status == recordOK && spec.handle != nil {
			spec.handle(p, tok, []Record{rec})
		}
	case kindTable:
		recs := p.readRecords(ts, true)
		if spec.handle != nil {
			spec.handle(p, tok, recs)
		}
	default:
		recs := p.readRecords(ts, false)
		if spec.handle != nil {
			spec.handle(p, tok, recs)
		}
	}
}

type recordStatus int

const (
	recordOK recordStatus = iota
	recordDropped
	recordEOF
)

// readRecord читает значения до '/'. При непонятном символе запись
// отбрасывается до ближайшего '/'.
func (p *parseState) readRecord(ts *TokenStream) (Record, recordStatus) {
	rec := Record{Line: ts.Peek(0).Line}
	for {
		tok := ts.Next()
		switch tok.Type {
		case TokenComment, TokenNewline:
			continue
		case TokenTerminator:
			return rec, recordOK
		case TokenEOF:
			p.res.addError(SyntaxError(tok, "unterminated record at end of input"))
			return rec, recordEOF
		case TokenUnknown:
			p.res.addError(SyntaxError(tok, fmt.Sprintf("unexpected character %q", tok.Text)))
			p.skipRecord(ts)
			return Record{}, recordDropped
		default:
			rec.Values = append(rec.Values, tok.Expand()...)
		}
	}
}

// readRecords читает серию записей до следующего ключевого слова в верхнем
// регистре. Для таблиц пустая запись "/" также завершает серию.
func (p *parseState) readRecords(ts *TokenStream, table bool) []Record {
	var recs []Record
	for {
		ts.SkipTrivia()
		tok := ts.Peek(0)
		if tok.Type == TokenEOF || isBoundary(tok) {
			return recs
		}
		if table && tok.Type == TokenTerminator {
			ts.Next()
			return recs
		}
		if tok.IsKeyword() && aloneOnLine(ts) {
			p.res.addIndentedKeyword(tok)
		}

		rec, status := p.readRecord(ts)
		switch status {
		case recordOK:
			recs = append(recs, rec)
		case recordEOF:
			return recs
		}
	}
}

// isBoundary решает, начинает ли токен новое ключевое слово. Известные
// ключевые слова распознаются везде, прочие слова в верхнем регистре
// только с первой колонки: так имена скважин без кавычек остаются данными.
func isBoundary(tok Token) bool {
	if !tok.IsKeyword() {
		return false
	}
	if _, ok := keywords[tok.Text]; ok {
		return true
	}
	return tok.Column == 1
}

// aloneOnLine true, если за текущим токеном до конца строки ничего нет
func aloneOnLine(ts *TokenStream) bool {
	switch ts.Peek(1).Type {
	case TokenNewline, TokenComment, TokenEOF:
		return true
	}
	return false
}

func (p *parseState) skipRecord(ts *TokenStream) {
	for {
		tok := ts.Next()
		if tok.Type == TokenTerminator || tok.Type == TokenEOF {
			return
		}
	}
}

func (p *parseState) recoverToKeyword(ts *TokenStream) {
	for {
		tok := ts.Peek(0)
		if tok.Type == TokenEOF || isBoundary(tok) {
			return
		}
		ts.Next()
	}
}

func (p *parseState) parseTitle(ts *TokenStream) {
	// Заголовок на следующей строке, до конца строки
	ts.SkipComments()
	if ts.Peek(0).Type == TokenNewline {
		ts.Next()
	}
	var parts []string
	for {
		tok := ts.Peek(0)
		if tok.Type == TokenNewline || tok.Type == TokenEOF || tok.Type == TokenComment {
			break
		}
		ts.Next()
		if tok.Type == TokenString {
			parts = append(parts, tok.Value)
		} else {
			parts = append(parts, tok.Text)
		}
	}
	p.res.Title = strings.Join(parts, " ")
}

func (p *parseState) parseInclude(ts *TokenStream, tok Token, baseDir string, depth int) {
	ts.SkipTrivia()
	pathTok, err := ts.Expect(TokenString)
	if err != nil {
		p.res.addError(err.(*apperror.Error))
		p.recoverToKeyword(ts)
		return
	}
	ts.SkipTrivia()
	if _, err := ts.Expect(TokenTerminator); err != nil {
		p.res.addError(err.(*apperror.Error))
	}

	path := pathTok.Value
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	if depth+1 > p.parser.maxIncludeDepth {
		p.res.warnf("INCLUDE %s at line %d exceeds depth %d, skipped", pathTok.Value, tok.Line, p.parser.maxIncludeDepth)
		return
	}

	data, err := p.parser.readFile(path)
	if err != nil {
		p.res.warnf("INCLUDE %s at line %d not readable: %v", pathTok.Value, tok.Line, err)
		return
	}
	p.res.Includes = append(p.res.Includes, path)
	p.parseTokens(NewTokenStream(Tokenize(string(data))), filepath.Dir(path), depth+1)
}

// --- обработчики ключевых слов ---

func first(p *parseState, tok Token, recs []Record) (Record, bool) {
	if len(recs) == 0 {
		p.res.addError(SyntaxError(tok, fmt.Sprintf("%s has no records", tok.Text)))
		return Record{}, false
	}
	return recs[0], true
}

func parseDimens(p *parseState, tok Token, recs []Record) {
	rec, ok := first(p, tok, recs)
	if !ok {
		return
	}
	for i := 0; i < 3; i++ {
		p.res.Dimens[i] = rec.At(i).Int(0)
	}
	p.res.HasDimens = true
}

func parseStart(p *parseState, tok Token, recs []Record) {
	rec, ok := first(p, tok, recs)
	if !ok {
		return
	}
	t, err := recordDate(rec)
	if err != nil {
		p.res.addError(SyntaxError(tok, fmt.Sprintf("START: %v", err)))
		return
	}
	p.res.Start = t
}

func parseEquil(p *parseState, tok Token, recs []Record) {
	rec, ok := first(p, tok, recs)
	if !ok {
		return
	}
	p.res.Equil = &EquilRecord{
		DatumDepth:    rec.At(0).Float(0),
		DatumPressure: rec.At(1).Float(0),
		WOCDepth:      rec.At(2).Float(0),
		GOCDepth:      rec.At(4).Float(0),
	}
}

func parseDensity(p *parseState, tok Token, recs []Record) {
	rec, ok := first(p, tok, recs)
	if !ok {
		return
	}
	p.res.Density = &DensityRecord{
		Oil:   rec.At(0).Float(0),
		Water: rec.At(1).Float(0),
		Gas:   rec.At(2).Float(0),
	}
}

func parsePVTW(p *parseState, tok Token, recs []Record) {
	rec, ok := first(p, tok, recs)
	if !ok {
		return
	}
	p.res.PVTW = &PVTWRecord{
		RefPressure:   rec.At(0).Float(0),
		Bw:            rec.At(1).Float(1),
		Compress:      rec.At(2).Float(0),
		Viscosity:     rec.At(3).Float(0),
		Viscosibility: rec.At(4).Float(0),
	}
}

func parseRock(p *parseState, tok Token, recs []Record) {
	rec, ok := first(p, tok, recs)
	if !ok {
		return
	}
	p.res.Rock = &RockRecord{RefPressure: rec.At(0).Float(0), Compress: rec.At(1).Float(0)}
}

// parsePVTTable берёт первую таблицу (первую запись) из строк по три значения
func parsePVTTable(p *parseState, tok Token, recs []Record) []PVTRow {
	rec, ok := first(p, tok, recs)
	if !ok {
		return nil
	}
	if len(rec.Values)%3 != 0 {
		p.res.warnf("%s at line %d: %d values is not a multiple of 3, trailing values ignored", tok.Text, tok.Line, len(rec.Values))
	}
	rows := make([]PVTRow, 0, len(rec.Values)/3)
	for i := 0; i+2 < len(rec.Values); i += 3 {
		rows = append(rows, PVTRow{
			Pressure:  rec.At(i).Float(0),
			FVF:       rec.At(i + 1).Float(1),
			Viscosity: rec.At(i + 2).Float(0),
		})
	}
	return rows
}

func parseGridArray(p *parseState, tok Token, recs []Record) {
	rec := recs[0]
	name := strings.ToUpper(tok.Text)
	values := make([]float64, 0, len(rec.Values))
	for _, v := range rec.Values {
		if v.Kind != ValueNumber {
			p.res.warnf("%s at line %d: non-numeric value ignored", name, rec.Line)
			continue
		}
		values = append(values, v.Num)
	}
	p.res.Arrays[name] = values
}

func parseTstep(p *parseState, tok Token, recs []Record) {
	for _, v := range recs[0].Values {
		if v.Kind != ValueNumber || !(v.Num > 0) {
			p.res.addError(SyntaxError(tok, fmt.Sprintf("TSTEP value %q must be a positive number", v.Text("*"))))
			continue
		}
		p.res.Schedule = append(p.res.Schedule, ScheduleStep{Days: v.Num})
	}
}

func parseDates(p *parseState, tok Token, recs []Record) {
	for _, rec := range recs {
		t, err := recordDate(rec)
		if err != nil {
			p.res.addError(SyntaxError(Token{Line: rec.Line, Column: 1}, fmt.Sprintf("DATES: %v", err)))
			continue
		}
		p.res.Schedule = append(p.res.Schedule, ScheduleStep{Date: t})
	}
}

func parseWelspecs(p *parseState, _ Token, recs []Record) {
	for _, rec := range recs {
		p.res.WellSpecs = append(p.res.WellSpecs, WellSpec{
			Name:     rec.At(0).Text(""),
			Group:    rec.At(1).Text(""),
			I:        rec.At(2).Int(0),
			J:        rec.At(3).Int(0),
			RefDepth: rec.At(4).Float(0),
			Phase:    strings.ToUpper(rec.At(5).Text("")),
			Line:     rec.Line,
		})
	}
}

func parseCompdat(p *parseState, _ Token, recs []Record) {
	for _, rec := range recs {
		p.res.Completions = append(p.res.Completions, Completion{
			Well:   rec.At(0).Text(""),
			I:      rec.At(1).Int(0),
			J:      rec.At(2).Int(0),
			K1:     rec.At(3).Int(0),
			K2:     rec.At(4).Int(0),
			Status: strings.ToUpper(rec.At(5).Text("OPEN")),
		})
	}
}

func parseWconprod(p *parseState, _ Token, recs []Record) {
	for _, rec := range recs {
		p.res.Producers = append(p.res.Producers, ProducerControl{
			Well:   rec.At(0).Text(""),
			Status: strings.ToUpper(rec.At(1).Text("OPEN")),
			Mode:   strings.ToUpper(rec.At(2).Text("")),
			ORAT:   rec.At(3).Float(0),
			WRAT:   rec.At(4).Float(0),
			GRAT:   rec.At(5).Float(0),
			LRAT:   rec.At(6).Float(0),
			RESV:   rec.At(7).Float(0),
			BHP:    rec.At(8).Float(0),
		})
	}
}

func parseWconinje(p *parseState, _ Token, recs []Record) {
	for _, rec := range recs {
		p.res.Injectors = append(p.res.Injectors, InjectorControl{
			Well:   rec.At(0).Text(""),
			Type:   strings.ToUpper(rec.At(1).Text("WATER")),
			Status: strings.ToUpper(rec.At(2).Text("OPEN")),
			Mode:   strings.ToUpper(rec.At(3).Text("")),
			Rate:   rec.At(4).Float(0),
			RESV:   rec.At(5).Float(0),
			BHP:    rec.At(6).Float(0),
		})
	}
}

var monthAliases = strings.NewReplacer("JLY", "JUL")

// recordDate разбирает дату записи START/DATES: либо один токен DATE,
// либо три значения день, месяц, год.
func recordDate(rec Record) (time.Time, error) {
	var text string
	switch {
	case len(rec.Values) >= 1 && rec.Values[0].Kind == ValueDate:
		text = rec.Values[0].Str
	case len(rec.Values) >= 3:
		text = fmt.Sprintf("%s %s %s", rec.At(0).Text(""), rec.At(1).Text(""), rec.At(2).Text(""))
	default:
		return time.Time{}, fmt.Errorf("expected day month year, got %d values", len(rec.Values))
	}
	return ParseDate(text)
}

// ParseDate разбирает дату колоды вида "1 JAN 2020"
func ParseDate(text string) (time.Time, error) {
	fields := strings.Fields(strings.ToUpper(strings.ReplaceAll(text, "'", "")))
	if len(fields) != 3 {
		return time.Time{}, fmt.Errorf("invalid date %q", text)
	}
	month := monthAliases.Replace(fields[1])
	normalized := fmt.Sprintf("%s %s%s %s", fields[0], month[:1], strings.ToLower(month[1:]), fields[2])
	t, err := time.Parse("2 Jan 2006", normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", text)
	}
	return t, nil
}

// FormatDate форматирует дату для колоды: "1 JAN 2020"
func FormatDate(t time.Time) string {
	return strings.ToUpper(t.Format("2 Jan 2006"))
}
