// Command authgate-server serves the authgate JSON API over HTTP.
//
// Configuration comes from the environment and an optional .env file. With
// no REDIS_ADDR an embedded miniredis is started; with no DATABASE_URL
// accounts are kept in memory. Both fallbacks are refused in production.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "authgate-server: %v\n", err)
		os.Exit(1)
	}
}
