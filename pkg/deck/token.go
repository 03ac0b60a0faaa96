// Package deck читает и пишет текстовые колоды симулятора (формат ECLIPSE):
// токенизатор, парсер с INCLUDE, отображение в domain.SimRequest и генератор.
package deck

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenType тип токена
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenKeyword
	TokenInteger
	TokenReal
	TokenString
	TokenDate
	TokenRepeat
	TokenDefault
	TokenStar
	TokenTerminator
	TokenComment
	TokenNewline
	TokenUnknown
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenKeyword:    "KEYWORD",
	TokenInteger:    "INTEGER",
	TokenReal:       "REAL",
	TokenString:     "STRING",
	TokenDate:       "DATE",
	TokenRepeat:     "REPEAT",
	TokenDefault:    "DEFAULT",
	TokenStar:       "STAR",
	TokenTerminator: "TERMINATOR",
	TokenComment:    "COMMENT",
	TokenNewline:    "NEWLINE",
	TokenUnknown:    "UNKNOWN",
}

// String возвращает строковое представление типа токена
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token лексема колоды с позицией (строки и столбцы с 1)
type Token struct {
	Type   TokenType
	Text   string // исходный текст
	Line   int
	Column int

	// Для REPEAT и DEFAULT: число повторов и повторяемое значение (текст
	// без кавычек). У DEFAULT Value пустое.
	Count int
	Value string
}

// String для отладки и сообщений об ошибках
func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	return fmt.Sprintf("%s(%q) at %d:%d", t.Type, t.Text, t.Line, t.Column)
}

// IsKeyword true для идентификатора целиком в верхнем регистре. Такой токен
// служит границей серии записей.
func (t Token) IsKeyword() bool {
	if t.Type != TokenKeyword {
		return false
	}
	return t.Text == strings.ToUpper(t.Text)
}

// ValueKind вид значения внутри записи
type ValueKind int

const (
	ValueDefault ValueKind = iota
	ValueNumber
	ValueString
	ValueDate
)

// Value элемент записи после раскрытия повторов
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
}

// IsDefault true для умолчания (N* или *)
func (v Value) IsDefault() bool { return v.Kind == ValueDefault }

// Float возвращает число или def, если значение по умолчанию или не число
func (v Value) Float(def float64) float64 {
	if v.Kind == ValueNumber {
		return v.Num
	}
	return def
}

// Int возвращает целое или def
func (v Value) Int(def int) int {
	if v.Kind == ValueNumber {
		return int(v.Num)
	}
	return def
}

// Text возвращает строку (для чисел и строк) или def
func (v Value) Text(def string) string {
	switch v.Kind {
	case ValueString, ValueDate:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
	return def
}

// Record одна запись ключевого слова, оканчивающаяся '/'
type Record struct {
	Values []Value
	Line   int
}

// At возвращает i-й элемент записи или умолчание, если запись короче
func (r Record) At(i int) Value {
	if i < 0 || i >= len(r.Values) {
		return Value{Kind: ValueDefault}
	}
	return r.Values[i]
}

// Floats возвращает все значения записи как числа; умолчания заменяются def
func (r Record) Floats(def float64) []float64 {
	out := make([]float64, len(r.Values))
	for i, v := range r.Values {
		out[i] = v.Float(def)
	}
	return out
}

// parseNumber разбирает числа колоды, включая фортрановский показатель D
func parseNumber(text string) (float64, error) {
	s := strings.NewReplacer("D", "E", "d", "e").Replace(text)
	return strconv.ParseFloat(s, 64)
}

// Expand раскрывает токен значения в элементы записи: REPEAT даёт Count
// копий значения, DEFAULT и STAR дают умолчания. Для токенов, не
// являющихся значениями, возвращает nil.
func (t Token) Expand() []Value {
	switch t.Type {
	case TokenInteger, TokenReal:
		if n, err := parseNumber(t.Text); err == nil {
			return []Value{{Kind: ValueNumber, Num: n}}
		}
		return []Value{{Kind: ValueString, Str: t.Text}}
	case TokenString:
		return []Value{{Kind: ValueString, Str: t.Value}}
	case TokenDate:
		return []Value{{Kind: ValueDate, Str: t.Value}}
	case TokenKeyword:
		return []Value{{Kind: ValueString, Str: t.Text}}
	case TokenRepeat:
		v := Value{Kind: ValueString, Str: t.Value}
		if !strings.HasSuffix(t.Text, "'") {
			if n, err := parseNumber(t.Value); err == nil {
				v = Value{Kind: ValueNumber, Num: n}
			}
		}
		out := make([]Value, t.Count)
		for i := range out {
			out[i] = v
		}
		return out
	case TokenDefault, TokenStar:
		return make([]Value, t.Count)
	}
	return nil
}
