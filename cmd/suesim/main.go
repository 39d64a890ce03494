// Command suesim runs credit-based flow control and link-level retry
// simulations described by a scenario file.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "suesim",
	Short: "suesim simulates reliable point-to-point fabrics.",
	Long: `suesim simulates point-to-point fabrics that combine ` +
		`credit-based flow control with link-level retry. A YAML scenario ` +
		`describes the devices, the wiring, and the traffic.`,
}

func main() {
	// A .env file can carry defaults such as SUESIM_MONITOR_PORT.
	_ = godotenv.Load()

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
