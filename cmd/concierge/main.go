package main

import (
	"io"
	"os"

	"github.com/go-go-golems/concierge/cmd/concierge/cmds"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "concierge",
	Short: "concierge routes customer service questions to specialised agents",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// flags are parsed now, so --log-level and co are visible
		return initLogger()
	},
	SilenceUsage: true,
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initLogger() error {
	return InitLogger(&logConfig{
		Level:      viper.GetString("log-level"),
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}

	format := config.LogFormat
	if format == "" || format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}
	var logWriter io.Writer
	if format == "text" {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	log.Logger = log.Output(logWriter)

	level := config.Level
	if level == "" {
		level = "info"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("with-caller", false, "Log caller")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "auto", "Log format (auto, json, text)")
	rootCmd.PersistentFlags().String("log-file", "", "Log file (default: stderr)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./config.yml or ~/.concierge/config.yml)")

	viper.SetEnvPrefix("concierge")
	cobra.CheckErr(viper.BindPFlags(rootCmd.PersistentFlags()))

	rootCmd.AddCommand(
		cmds.NewAskCommand(),
		cmds.NewServeCommand(),
		cmds.NewSeedCommand(),
		cmds.NewToolsCommand(),
		cmds.NewTracesCommand(),
	)
}
