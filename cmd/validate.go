package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// validateCmd checks a farm file without running it
var validateCmd = &cobra.Command{
	Use:   "validate <farm-file>",
	Short: "Check a farm file against the schema and the simulation rules",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateFarm(args[0], cmd.Flags(), cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func validateFarm(path string, fs *pflag.FlagSet, out io.Writer) error {
	_, cfg, err := loadFarmConfig(path, fs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok (%d fields: %s; %d farmers, %d buyers, tick %s)\n",
		path, len(cfg.Fields.Species), strings.Join(cfg.Fields.Species, ", "),
		cfg.Farmers.Count, cfg.Buyers.Count, cfg.Clock.TickDuration)
	return nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
