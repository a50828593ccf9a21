package client

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/echoloop/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PingCmd sends a message to the server and verifies the echo
	PingCmd = &cobra.Command{
		Use:               "ping [message]",
		Short:             "Send a message to the server and verify the echo",
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: setupClient,
		RunE:              runPing,
	}
)

func init() {
	key := "count"
	PingCmd.Flags().Int(key, 1, util.WrapString("How many echo round trips to perform"))
}

func runPing(cmd *cobra.Command, args []string) error {
	defer echoClient.Close()

	message := "hello echoloop"
	if len(args) == 1 {
		message = args[0]
	}

	count := viper.GetInt("count")
	payload := []byte(message)

	for i := 0; i < count; i++ {
		start := time.Now()
		if err := echoClient.Verify(payload); err != nil {
			return fmt.Errorf("ping %d/%d failed: %v", i+1, count, err)
		}
		fmt.Printf("echoed %d bytes in %s\n", len(payload), time.Since(start))
	}

	return nil
}
