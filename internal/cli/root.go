package cli

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dmsrelay/internal/config"
	"dmsrelay/pkg/logger"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool
	Quiet      bool
}

var globalFlags GlobalFlags

// contextKey CLI 上下文键
type contextKey struct{}

// skipInit lists commands that run without loading configuration.
var skipInit = map[string]bool{
	"version": true,
	"help":    true,
}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dmsrelay",
		Short: "dmsrelay - DMS web-chat relay",
		Long: `dmsrelay bridges a browser chat client and a Digital Messaging Service
channel. It forwards outbound messages, receives platform webhooks, and
keeps a deduplicated per-customer message history that clients poll.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipInit[cmd.Name()] {
				return nil
			}
			cliCtx, err := initContext(globalFlags)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cliCtx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil {
				return cliCtx.Close()
			}
			return nil
		},
	}

	// 全局标志
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&globalFlags.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "quiet mode")

	// 子命令
	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewDoctorCmd())
	rootCmd.AddCommand(NewJobsCmd())

	return rootCmd
}

// initContext loads the dotenv file, the configuration and the logger.
func initContext(flags GlobalFlags) (*CLIContext, error) {
	// 已存在的环境变量优先于 .env
	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil {
			logger.Debug().Err(err).Str("file", flags.EnvFile).Msg("no dotenv file loaded")
		}
	}

	configPath, err := config.ResolveConfigPath(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logLevel := cfg.Log.Level
	if flags.Verbose {
		logLevel = "debug"
	}
	if flags.Quiet {
		logLevel = "error"
	}
	if err := logger.Init(logger.LogConfig{
		Level:  logLevel,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		return nil, err
	}

	return NewCLIContext(cfg, config.Path(), logger.Get(), flags.Verbose, flags.Quiet), nil
}

// GetCLIContext 从命令上下文获取 CLI 上下文
func GetCLIContext(cmd *cobra.Command) *CLIContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cliCtx, ok := ctx.Value(contextKey{}).(*CLIContext)
	if !ok {
		return nil
	}
	return cliCtx
}
