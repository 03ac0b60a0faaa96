package deck

import (
	"fmt"

	"reservoir/pkg/apperror"
)

// TokenStream буферизованное представление потока токенов с просмотром вперёд
type TokenStream struct {
	tokens []Token
	pos    int
}

// NewTokenStream создаёт поток. Если последний токен не EOF, он добавляется.
func NewTokenStream(tokens []Token) *TokenStream {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		eof := Token{Type: TokenEOF}
		if n := len(tokens); n > 0 {
			eof.Line = tokens[n-1].Line
			eof.Column = tokens[n-1].Column + len(tokens[n-1].Text)
		}
		tokens = append(tokens, eof)
	}
	return &TokenStream{tokens: tokens}
}

// Peek возвращает токен со смещением offset от текущего, не продвигаясь.
// За концом потока возвращается EOF.
func (s *TokenStream) Peek(offset int) Token {
	i := s.pos + offset
	if i < 0 {
		i = 0
	}
	if i >= len(s.tokens) {
		return s.tokens[len(s.tokens)-1]
	}
	return s.tokens[i]
}

// Next поглощает и возвращает текущий токен. На EOF позиция не меняется.
func (s *TokenStream) Next() Token {
	tok := s.tokens[s.pos]
	if tok.Type != TokenEOF {
		s.pos++
	}
	return tok
}

// Expect поглощает токен заданного типа или возвращает синтаксическую
// ошибку с номером строки и столбца. При ошибке позиция не меняется.
func (s *TokenStream) Expect(typ TokenType) (Token, error) {
	tok := s.Peek(0)
	if tok.Type != typ {
		return tok, SyntaxError(tok, fmt.Sprintf("expected %s, got %s %q", typ, tok.Type, tok.Text))
	}
	return s.Next(), nil
}

// AtEOF true, если поток исчерпан
func (s *TokenStream) AtEOF() bool {
	return s.Peek(0).Type == TokenEOF
}

// SkipComments пропускает комментарии
func (s *TokenStream) SkipComments() {
	for s.Peek(0).Type == TokenComment {
		s.Next()
	}
}

// SkipNewlines пропускает переводы строк
func (s *TokenStream) SkipNewlines() {
	for s.Peek(0).Type == TokenNewline {
		s.Next()
	}
}

// SkipTrivia пропускает комментарии и переводы строк
func (s *TokenStream) SkipTrivia() {
	for {
		switch s.Peek(0).Type {
		case TokenComment, TokenNewline:
			s.Next()
		default:
			return
		}
	}
}

// SkipLine пропускает токены до конца текущей строки включительно
func (s *TokenStream) SkipLine() {
	for {
		tok := s.Next()
		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			return
		}
	}
}

// SyntaxError строит ошибку DECK_SYNTAX с позицией токена
func SyntaxError(tok Token, msg string) *apperror.Error {
	return apperror.New(apperror.CodeDeckSyntax, fmt.Sprintf("line %d, column %d: %s", tok.Line, tok.Column, msg)).
		WithDetails("line", tok.Line).
		WithDetails("column", tok.Column)
}
