package main

import "github.com/oshokin/skill-deployer/cmd/skill-token/cmd"

func main() {
	cmd.Execute()
}
