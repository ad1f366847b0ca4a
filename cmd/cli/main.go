// Command dex-analysis attributes DEX bytecode size inside an APK to the
// packages, classes and methods that own it.
package main

import "github.com/dex-analysis/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
