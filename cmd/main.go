package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/packetcap/go-pcapfwd/internal/app"
	"github.com/packetcap/go-pcapfwd/internal/config"
	"github.com/packetcap/go-pcapfwd/internal/logging"
)

var (
	configFile  string
	printConfig bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pcapfwd",
	Short: "Capture packets from a device into a file, or replay a file onto a device",
	Long: `Capture packets from a device into a file, or replay a file onto a device.

Without --device the available devices are listed. With --device and --output
packets are captured until interrupted; with --device and --input the file is
replayed onto the device. Counters are printed at the end of every run.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		if printConfig {
			b, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		}
		closer, err := logging.Setup(cfg.Log)
		if err != nil {
			return err
		}
		defer closer.Close()
		log.WithField("config", configFile).Debug("configured")
		return app.New().Run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "YAML file with default settings")
	rootCmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective settings as YAML and exit")
	config.AddFlags(rootCmd.Flags())
	rootCmd.MarkFlagsMutuallyExclusive("input", "output")
}
