// Command farm-concurrency runs the tick-synchronized farm simulation.
package main

import "github.com/fernandobusta/farm-concurrency/cmd"

func main() {
	cmd.Execute()
}
