// Command bidsync keeps auction bids, chats, and notifications in sync with a
// live-auction marketplace over its realtime channel.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
