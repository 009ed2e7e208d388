package main

import "github.com/vietddude/fetchkit/internal/cli"

func main() {
	cli.Execute()
}
