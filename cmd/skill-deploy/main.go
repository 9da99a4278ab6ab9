package main

import "github.com/oshokin/skill-deployer/cmd/skill-deploy/cmd"

func main() {
	cmd.Execute()
}
