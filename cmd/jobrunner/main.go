package main

import "github.com/vietddude/jobrunner/internal/cli"

func main() {
	cli.Execute()
}
