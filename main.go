package main

import (
	"github.com/ValentinKolb/echoloop/cmd"
)

func main() {
	cmd.Execute()
}
