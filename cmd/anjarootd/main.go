// Command anjarootd traces the Android zygote and raises the permitted
// capability set of children whose package was granted root.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type options struct {
	configPath    string
	logLevel      string
	logFile       string
	spawnerSocket string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "anjarootd",
		Short:         "anjarootd: grant capabilities to approved zygote children",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("anjarootd {{.Version}}\n")

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the yaml configuration")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "append logs to this file instead of stderr")
	cmd.Flags().StringVar(&opts.spawnerSocket, "spawner-socket", "", "socket the spawner listens on, '@' for abstract")

	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
