// Command imdbmart ingests the published IMDb dataset dumps into staging
// tables and builds a normalized report schema from them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
