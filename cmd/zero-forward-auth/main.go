package main

import "github.com/gematik/zero-lab/go/forwardauth/cmd/zero-forward-auth/cmd"

func main() {
	cmd.Execute()
}
