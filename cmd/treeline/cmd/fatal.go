package cmd

import (
	"fmt"
	"log"
	"os"
)

// The CLI reports failures through these indirections so tests can swap
// them out and count exits instead of dying.
var (
	logFatalf  = log.Fatalf
	logFatalln = log.Fatalln
	osExit     = os.Exit

	// infoLogger carries confirmations and descriptor rows to stdout,
	// keeping them apart from raw content written through logStdOut.
	infoLogger = log.New(os.Stdout, "", 0)
	logStdOut  = fmt.Printf
)

// wrapFatalln aborts the command with a context message, chaining the
// cause when there is one.
func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
		return
	}
	logFatalf("%s: %v", msg, err)
}
