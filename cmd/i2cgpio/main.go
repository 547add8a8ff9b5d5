package main

import "github.com/OpenTraceLab/OpenTraceI2C/cmd/i2cgpio/cmd"

func main() {
	cmd.Execute()
}
