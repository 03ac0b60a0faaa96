package deck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservoir/pkg/apperror"
)

func types(tokens []Token) []TokenType {
	out := make([]TokenType, len(tokens))
	for i, t := range tokens {
		out[i] = t.Type
	}
	return out
}

func TestTokenize_RepeatIsSingleToken(t *testing.T) {
	tokens := Tokenize("300*1000")
	require.Equal(t, []TokenType{TokenRepeat, TokenEOF}, types(tokens))

	tok := tokens[0]
	assert.Equal(t, 300, tok.Count)
	assert.Equal(t, "1000", tok.Value)

	values := tok.Expand()
	require.Len(t, values, 300)
	for _, v := range values {
		assert.Equal(t, ValueNumber, v.Kind)
		assert.Equal(t, 1000.0, v.Num)
	}
}

func TestTokenize_BareDefaultExpandsToPlaceholders(t *testing.T) {
	tokens := Tokenize("5*")
	require.Equal(t, []TokenType{TokenDefault, TokenEOF}, types(tokens))

	values := tokens[0].Expand()
	require.Len(t, values, 5)
	for _, v := range values {
		assert.True(t, v.IsDefault())
		assert.Equal(t, 7.5, v.Float(7.5))
	}
}

func TestTokenize_Kinds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  TokenType
		value string
	}{
		{"integer", "42", TokenInteger, "42"},
		{"negative integer", "-7", TokenInteger, "-7"},
		{"real", "0.25", TokenReal, "0.25"},
		{"real exponent", "3.22E-6", TokenReal, "3.22E-6"},
		{"fortran exponent", "1.0D3", TokenReal, "1.0D3"},
		{"string", "'PROD1'", TokenString, "PROD1"},
		{"date", "1 JAN 2015", TokenDate, "1 JAN 2015"},
		{"quoted month", "15 'JLY' 2020", TokenDate, "15 JLY 2020"},
		{"star", "*", TokenStar, ""},
		{"terminator", "/", TokenTerminator, "/"},
		{"comment", "-- note", TokenComment, "-- note"},
		{"keyword", "WCONPROD", TokenKeyword, "WCONPROD"},
		{"repeat string", "3*'OPEN'", TokenRepeat, "OPEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := Tokenize(tt.input)
			require.Len(t, tokens, 2)
			assert.Equal(t, tt.want, tokens[0].Type)
			assert.Equal(t, tt.value, tokens[0].Value)
		})
	}
}

func TestTokenize_FortranExponentValue(t *testing.T) {
	values := Tokenize("1.5D2")[0].Expand()
	require.Len(t, values, 1)
	assert.Equal(t, 150.0, values[0].Num)
}

func TestTokenize_RepeatedStringStaysString(t *testing.T) {
	values := Tokenize("2*'10'")[0].Expand()
	require.Len(t, values, 2)
	assert.Equal(t, ValueString, values[0].Kind)
	assert.Equal(t, "10", values[1].Str)
}

func TestTokenize_Positions(t *testing.T) {
	tokens := Tokenize("DIMENS -- grid\n 10 10 3 /\n")

	require.Equal(t, []TokenType{
		TokenKeyword, TokenComment, TokenNewline,
		TokenInteger, TokenInteger, TokenInteger, TokenTerminator, TokenNewline,
		TokenEOF,
	}, types(tokens))

	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, 1, tokens[0].Column)
	assert.Equal(t, 8, tokens[1].Column)
	assert.Equal(t, 2, tokens[3].Line)
	assert.Equal(t, 2, tokens[3].Column)
	assert.Equal(t, 10, tokens[6].Column)
}

func TestTokenize_UnknownCharacter(t *testing.T) {
	tokens := Tokenize("PORO = 1")
	require.Equal(t, []TokenType{TokenKeyword, TokenUnknown, TokenInteger, TokenEOF}, types(tokens))
	assert.Equal(t, "=", tokens[1].Text)
	assert.Equal(t, 6, tokens[1].Column)
}

func TestTokenize_UnknownMultibyteRune(t *testing.T) {
	tokens := Tokenize("é1")
	require.Equal(t, []TokenType{TokenUnknown, TokenInteger, TokenEOF}, types(tokens))
	assert.Equal(t, "é", tokens[0].Text)
	assert.Equal(t, 2, tokens[1].Column)
}

func TestToken_IsKeyword(t *testing.T) {
	assert.True(t, Tokenize("WELSPECS")[0].IsKeyword())
	assert.False(t, Tokenize("Sample")[0].IsKeyword())
	assert.False(t, Tokenize("'WELSPECS'")[0].IsKeyword())
}

func TestTokenStream(t *testing.T) {
	ts := NewTokenStream(Tokenize("-- c\nDIMENS\n 1 /"))

	assert.Equal(t, TokenComment, ts.Peek(0).Type)
	ts.SkipTrivia()
	assert.Equal(t, "DIMENS", ts.Peek(0).Text)
	assert.Equal(t, TokenNewline, ts.Peek(1).Type)
	assert.Equal(t, TokenEOF, ts.Peek(100).Type)

	_, err := ts.Expect(TokenInteger)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeDeckSyntax))
	assert.Contains(t, err.Error(), "line 2, column 1")
	assert.Equal(t, "DIMENS", ts.Peek(0).Text, "failed Expect must not advance")

	kw, err := ts.Expect(TokenKeyword)
	require.NoError(t, err)
	assert.Equal(t, "DIMENS", kw.Text)

	ts.SkipNewlines()
	assert.Equal(t, TokenInteger, ts.Next().Type)
	assert.Equal(t, TokenTerminator, ts.Next().Type)
	assert.True(t, ts.AtEOF())
	assert.Equal(t, TokenEOF, ts.Next().Type)
}

func TestNewTokenStream_AppendsEOF(t *testing.T) {
	ts := NewTokenStream([]Token{{Type: TokenInteger, Text: "1", Line: 3, Column: 4}})
	ts.Next()
	eof := ts.Next()
	assert.Equal(t, TokenEOF, eof.Type)
	assert.Equal(t, 3, eof.Line)
	assert.Equal(t, 5, eof.Column)
}
