// simctl: запуск и сравнение симуляций пласта на OPM Flow и MRST.
package main

import (
	"os"

	"reservoir/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
