package main

import "github.com/mcastellin/golang-mastery/netsim/cmd"

func main() {
	cmd.Execute()
}
