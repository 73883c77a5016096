// Command inkgate runs the policy-governed action router for an autonomous
// collaborative-fiction agent.
package main

import "github.com/Sentinel-Gate/inkgate/cmd/inkgate/cmd"

func main() {
	cmd.Execute()
}
