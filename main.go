package main

import "github.com/jjenkins/trialwatch/cmd"

func main() {
	cmd.Execute()
}
