package main

import (
	"github.com/wavedbg/wavedbg/cmd/wavedbg/cmds"
)

func main() {
	cmds.New().Execute()
}
