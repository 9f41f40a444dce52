// The main package for the ingest executable.
package main

import "github.com/JakeFAU/careers-ingest/cmd"

func main() {
	cmd.Execute()
}
