package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"playersync/logging"
)

// playersync 入口：serve 启动权威会话服务，bot 启动无界面客户端，schema 导出协议描述
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	logFile    string
	logConsole bool
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "playersync",
		Short:         "Authoritative player-state sync over an unreliable datagram transport",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	def := logging.DefaultConfig()
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", def.FilePath, "rotating log file path (empty disables file output)")
	root.PersistentFlags().BoolVar(&opts.logConsole, "log-console", false, "also log to stderr")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", def.Debug, "log at debug level")

	root.AddCommand(newServeCmd(opts), newBotCmd(opts), newSchemaCmd())
	return root
}

// logger 使用第三方 zap 日志库写入日志文件（带滚动）
func (o *rootOptions) logger() (*zap.SugaredLogger, error) {
	log, err := logging.New(logging.Config{FilePath: o.logFile, Console: o.logConsole, Debug: o.debug})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

// envOr 环境变量优先，便于容器部署
func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
