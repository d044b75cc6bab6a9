// Command desim runs the bundled simulation examples.
package main

import "github.com/sarchlab/desim/desim/cmd"

func main() {
	cmd.Execute()
}
