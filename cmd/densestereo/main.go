// Package main is the densestereo command line tool: it rectifies stereo frame pairs, computes
// disparity and distance images and manages calibrations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
