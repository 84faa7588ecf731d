package main

import (
	"os"

	"github.com/agentuity/go-ttlcache/config"
	"github.com/agentuity/go-ttlcache/logger"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ttlcache",
		Short:        "TTL cache with stampede protection for values, function calls and HTTP responses",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error or none (env TTLCACHE_LOG_LEVEL)")
	root.PersistentFlags().Bool("log-json", false, "log JSON lines instead of console output")
	root.AddCommand(newServeCommand(), newDigestCommand())
	return root
}

// flagOrEnv returns the named string flag when set, then the environment
// variable env, then def.
func flagOrEnv(cmd *cobra.Command, flag, env, def string) string {
	if val, _ := cmd.Flags().GetString(flag); val != "" {
		return val
	}
	if val, ok := os.LookupEnv(env); ok && val != "" {
		return val
	}
	return def
}

// newLogger builds the command logger at the level of cfg, which already holds
// any TTLCACHE_LOG_LEVEL override. The --log-level flag wins over both.
func newLogger(cmd *cobra.Command, cfg config.Config) logger.Logger {
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		cfg.LogLevel = flag
	}
	level := cfg.Level()
	if asJSON, _ := cmd.Flags().GetBool("log-json"); asJSON {
		return logger.NewJSONLoggerWithSink(cmd.ErrOrStderr(), level)
	}
	return logger.NewConsoleLoggerWithWriter(cmd.ErrOrStderr(), level)
}
