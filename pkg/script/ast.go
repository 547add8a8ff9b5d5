package script

import "github.com/alecthomas/participle/v2/lexer"

// File is a parsed script before its values are checked.
type File struct {
	Statements []*Statement `@@*`
}

// Statement is one command.
type Statement struct {
	Pos lexer.Position

	Start  bool    `  @"start"`
	Stop   bool    `| @"stop"`
	Send   *Send   `| @@`
	Recv   *Recv   `| @@`
	Write  *Write  `| @@`
	Read   *Read   `| @@`
	Xfer   *Xfer   `| @@`
	Lines  *Lines  `| @@`
	Expect *Expect `| @@`
}

// Send clocks raw bytes out. Example: send 0xA0 0x00
type Send struct {
	Bytes []string `"send" @Number+`
}

// Recv clocks raw bytes in. Example: recv 2
type Recv struct {
	Count string `"recv" @Number`
}

// Write is an addressed write transaction. Example: write 0x50 0x00 0xA5
type Write struct {
	Addr string   `"write" @Number`
	Data []string `@Number*`
}

// Read is an addressed read transaction. Example: read 0x50 4
type Read struct {
	Addr  string `"read" @Number`
	Count string `@Number`
}

// Xfer writes and then reads after a repeated start.
// Example: xfer 0x50 0x00 read 4
type Xfer struct {
	Addr  string   `"xfer" @Number`
	Data  []string `@Number*`
	Count string   `"read" @Number`
}

// Lines drives raw line levels. Example: lines 1 0
type Lines struct {
	SCL string `"lines" @Number`
	SDA string `@Number`
}

// Expect checks the bytes of the last read. Example: expect 0xA5 0x5A
type Expect struct {
	Bytes []string `"expect" @Number+`
}
