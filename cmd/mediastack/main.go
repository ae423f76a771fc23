package main

import "github.com/brimblehq/mediastack/internal/cli"

func main() {
	cli.Execute()
}
