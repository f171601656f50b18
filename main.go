// Command provenance crawls a hash-routed site and records page provenance.
package main

import (
	"os"

	"github.com/JakeFAU/page-provenance-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
