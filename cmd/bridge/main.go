// Command bridge runs the chat bridge: inbound events are routed to the
// computer or chat pipeline, replies are rate limited through the send queue,
// and every decision lands in the audit log.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
