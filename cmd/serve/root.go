package serve

import (
	"context"
	"os"
	"syscall"
	"time"

	"os/signal"

	cmdUtil "github.com/ValentinKolb/echoloop/cmd/util"
	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/ValentinKolb/echoloop/echo/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownGraceSeconds = 10

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the echoloop server",
		Long:    `Start the echoloop server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is ECHOLOOP_<flag> (e.g. ECHOLOOP_ENDPOINT=:7777)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:7777", cmdUtil.WrapString("The address on which the echo server will listen (e.g. 0.0.0.0:7777 or :0 for a kernel-assigned port)"))

	key = "backend"
	ServeCmd.PersistentFlags().String(key, common.BackendEpoll, cmdUtil.WrapString("Event loop backend to use (epoll, gonet). The epoll backend is only available on linux"))

	key = "trigger-mode"
	ServeCmd.PersistentFlags().String(key, common.TriggerEdge, cmdUtil.WrapString("Epoll notification mode (lt = level-triggered, et = edge-triggered). Ignored by the gonet backend"))

	key = "loops"
	ServeCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("Number of listener loops. Values above 1 bind the endpoint multiple times via SO_REUSEPORT so the kernel distributes connections across loops (epoll backend only)"))

	key = "max-pending-bytes"
	ServeCmd.PersistentFlags().Int(key, 8*1024*1024, cmdUtil.WrapString("Hard cap for unsent output buffered per connection. A connection exceeding it is dropped"))

	key = "high-watermark"
	ServeCmd.PersistentFlags().Int(key, 1024*1024, cmdUtil.WrapString("Pending output size above which the loop stops reading from a connection"))

	key = "low-watermark"
	ServeCmd.PersistentFlags().Int(key, 64*1024, cmdUtil.WrapString("Pending output size below which a paused connection becomes readable again"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Per-connection idle timeout in seconds (0 = none)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("HTTP address serving /metrics and /debug/pprof (e.g. :9100, empty = disabled)"))

	key = "write-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The socket write buffer size in KB (0 = kernel default)"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The socket read buffer size in KB (0 = kernel default)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY for accepted connections"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval for accepted connections (in seconds, 0 = disabled)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, cmdUtil.WrapString("The linger time for accepted connections (in seconds, negative = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Loop = common.LoopConf{
		Backend:         viper.GetString("backend"),
		TriggerMode:     viper.GetString("trigger-mode"),
		Loops:           viper.GetInt("loops"),
		MaxPendingBytes: viper.GetInt("max-pending-bytes"),
		HighWatermark:   viper.GetInt("high-watermark"),
		LowWatermark:    viper.GetInt("low-watermark"),
	}

	serveCmdConfig.Socket = common.SocketConf{
		WriteBufferSize: viper.GetInt("write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
	}

	serveCmdConfig.TCP = common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("tcp-linger"),
	}

	return serveCmdConfig.Validate()
}

// run starts the echoloop server and blocks until it is terminated
func run(_ *cobra.Command, _ []string) error {
	// Init loggers
	common.InitLoggers(serveCmdConfig.LogLevel)

	srv, err := server.NewEchoServer(*serveCmdConfig)
	if err != nil {
		return err
	}

	// Serve in the background so signals can trigger graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGraceSeconds*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
