package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/echoloop/cmd/client"
	"github.com/ValentinKolb/echoloop/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "echoloop",
		Short: "unified TCP echo event loop server",
		Long: fmt.Sprintf(`echoloop (v%s)

A TCP echo server built around a reusable event loop abstraction,
with a raw epoll backend (level- or edge-triggered, SO_REUSEPORT
fan-out across listener loops) and a portable goroutine-per-connection
backend sharing the same backpressure policy.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of echoloop",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("echoloop v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.PingCmd)
	RootCmd.AddCommand(client.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
