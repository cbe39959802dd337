// The main package for the content-collector executable.
package main

import (
	"github.com/JakeFAU/content-collector/cmd"
)

func main() {
	cmd.Execute()
}
