package script

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// ScriptLexer splits bus scripts into tokens. Statements are not terminated;
// every statement starts with a keyword so line breaks are insignificant.
var ScriptLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Comments run to the end of the line
	{Name: "Comment", Pattern: `#[^\n]*`},

	{Name: "Whitespace", Pattern: `[\s]+`},

	// Hexadecimal, binary or decimal
	{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+|0[bB][01]+|[0-9]+`},

	{Name: "Keyword", Pattern: `[a-zA-Z]+`},
})
