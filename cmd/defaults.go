package cmd

import (
	"fmt"
	"io"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fernandobusta/farm-concurrency/sim"
)

var defaultsFormat string // yaml or toml

// defaultsCmd prints the built-in configuration as a farm file
var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the default farm file",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeDefaults(cmd.OutOrStdout(), defaultsFormat); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func writeDefaults(w io.Writer, format string) error {
	f := farmFileFromConfig(sim.DefaultFarmConfig())
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return err
		}
		return enc.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(f)
	default:
		return fmt.Errorf("unknown format %q (want yaml or toml)", format)
	}
}

func init() {
	defaultsCmd.Flags().StringVar(&defaultsFormat, "format", "yaml", "Output format (yaml, toml)")
	rootCmd.AddCommand(defaultsCmd)
}
