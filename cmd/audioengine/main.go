/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "audioengine",
	Short: "Session-driven generative audio engine",
	Long: `audioengine hosts the session-driven generative audio player engine:
a construction-DAG facade over an Audio Host, Buffer Cache, Volume
Controller, Crossfade Engine, Timeline Scheduler, Phase Transition
Controller, and Layer Manager.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
