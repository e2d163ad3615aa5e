package main

import "github.com/retrace-app/retrace/cmd"

func main() {
	cmd.Execute()
}
