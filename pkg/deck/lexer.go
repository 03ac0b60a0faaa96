package deck

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// rule правило лексера. Правила проверяются по порядку, побеждает первое
// совпавшее в текущей позиции, поэтому более длинные и специфичные шаблоны
// стоят раньше общих.
type rule struct {
	typ TokenType
	re  *regexp.Regexp
}

const numberPattern = `[-+]?(?:\d+\.\d*|\.\d+|\d+)(?:[eEdD][-+]?\d+)?`

var months = `JAN|FEB|MAR|APR|MAY|JUN|JUL|JLY|AUG|SEP|OCT|NOV|DEC`

var rules = []rule{
	{TokenComment, regexp.MustCompile(`^--[^\n]*`)},
	{TokenNewline, regexp.MustCompile(`^\r?\n`)},
	{TokenTerminator, regexp.MustCompile(`^/`)},
	{TokenString, regexp.MustCompile(`^'[^'\n]*'`)},
	{TokenDate, regexp.MustCompile(`^\d{1,2}[ \t]+'?(?i:` + months + `)'?[ \t]+\d{4}\b`)},
	{TokenRepeat, regexp.MustCompile(`^\d+\*(?:` + numberPattern + `|'[^'\n]*')`)},
	{TokenDefault, regexp.MustCompile(`^\d+\*`)},
	{TokenStar, regexp.MustCompile(`^\*`)},
	{TokenReal, regexp.MustCompile(`^[-+]?(?:\d+\.\d*|\.\d+)(?:[eEdD][-+]?\d+)?|^[-+]?\d+[eEdD][-+]?\d+`)},
	{TokenInteger, regexp.MustCompile(`^[-+]?\d+`)},
	{TokenKeyword, regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_+\-]*`)},
}

var whitespace = regexp.MustCompile(`^[ \t\f\v]+`)

// Tokenize разбивает текст колоды на токены. Не падает на неизвестных
// символах: они становятся токенами UNKNOWN. Последний токен всегда EOF.
func Tokenize(src string) []Token {
	var tokens []Token
	line, col := 1, 1
	pos := 0

	for pos < len(src) {
		rest := src[pos:]

		if ws := whitespace.FindString(rest); ws != "" {
			pos += len(ws)
			col += len(ws)
			continue
		}

		tok := Token{Type: TokenUnknown, Line: line, Column: col}
		matched := ""
		for _, r := range rules {
			if m := r.re.FindString(rest); m != "" {
				tok.Type = r.typ
				matched = m
				break
			}
		}
		if matched == "" {
			// Одна руна как UNKNOWN
			_, size := utf8.DecodeRuneInString(rest)
			matched = rest[:size]
		}
		tok.Text = matched
		fillToken(&tok)
		tokens = append(tokens, tok)

		pos += len(matched)
		if tok.Type == TokenNewline {
			line++
			col = 1
		} else {
			col += utf8.RuneCountInString(matched)
		}
	}

	tokens = append(tokens, Token{Type: TokenEOF, Line: line, Column: col})
	return tokens
}

// fillToken заполняет Count/Value для повторов и убирает кавычки у строк
func fillToken(tok *Token) {
	switch tok.Type {
	case TokenString:
		tok.Value = strings.Trim(tok.Text, "'")
	case TokenRepeat:
		star := strings.IndexByte(tok.Text, '*')
		tok.Count, _ = strconv.Atoi(tok.Text[:star])
		tok.Value = strings.Trim(tok.Text[star+1:], "'")
	case TokenDefault:
		tok.Count, _ = strconv.Atoi(strings.TrimSuffix(tok.Text, "*"))
	case TokenStar:
		tok.Count = 1
	case TokenDate:
		tok.Value = strings.Join(strings.Fields(strings.ReplaceAll(tok.Text, "'", "")), " ")
	default:
		tok.Value = tok.Text
	}
}
