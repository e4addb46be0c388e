package cmd

import (
	"fmt"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const banner = `
  _____     _   _      _                      _
 |  __ \   | | (_)    (_)                    | |
 | |__) |__| |_ _  ___ _  ___  _ __   __ _ __| | ___  _ __
 |  ___/ _ \ __| |/ __| |/ _ \| '_ \ / _` + "`" + ` |/ _` + "`" + ` |/ _ \| '__|
 | |  |  __/ |_| | (__| | (_) | | | | (_| | (_| | (_) | |
 |_|   \___|\__|_|\___|_|\___/|_| |_|\__,_|\__,_|\___/|_|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Judicial Process Automation - Version %s\x1b[0m\n\n", Version)
}
