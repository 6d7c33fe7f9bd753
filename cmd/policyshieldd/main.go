// Command policyshieldd runs PolicyShield's HTTP server: the check/
// post-check API, admin controls, and health/metrics probes.
package main

import "github.com/policyshield/policyshield/cmd/policyshieldd/cmd"

func main() {
	cmd.Execute()
}
