package client

import (
	"github.com/ValentinKolb/echoloop/cmd/util"
	echoclient "github.com/ValentinKolb/echoloop/echo/client"
	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/spf13/cobra"
)

// echoClient is the shared client instance created by setupClient
var echoClient *echoclient.EchoClient

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common client flags to both commands
	util.SetupClientFlags(PingCmd)
	util.SetupClientFlags(BenchCmd)
}

// setupClient initializes the echo client from flags and environment
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Keep client command output free of connection chatter
	common.InitLoggers("warning")

	var err error
	echoClient, err = echoclient.New(*util.GetClientConfig())
	return err
}
