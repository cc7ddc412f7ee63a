// Command iprotoctl sends requests to IProto nodes through a balancer.
package main

import (
	"os"
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
