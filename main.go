package main

import "github.com/xiaot623/conductor/cmd"

func main() {
	cmd.Execute()
}
