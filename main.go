package main

import "github.com/mselser95/triarb/cmd"

func main() {
	cmd.Execute()
}
