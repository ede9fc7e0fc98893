// The main package for the insfound executable.
package main

import (
	"github.com/JakeFAU/insfound/cmd"
)

func main() {
	cmd.Execute()
}
