// Command capsule runs plans and agent sessions under a deny-by-default
// policy, recording every step to a tamper-evident audit log.
package main

import "github.com/capsule-rt/capsule/cmd/capsule/cmd"

func main() {
	cmd.Execute()
}
