package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tliron/commonlog"

	"github.com/chazu/objmodel/manifest"
)

var log = commonlog.GetLogger("objmodel.cli")

// app holds the state shared by subcommands once the root command has
// resolved the configuration.
type app struct {
	v         *viper.Viper
	configDir string
	verbosity int
	logFile   string

	manifest *manifest.Manifest
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "objmodel",
		Short: "Object header and class info cache inspector",
		Long: `objmodel decodes object header words and drives the class info cache
under the header layout and class pointer encoding configured in
objmodel.toml, command-line flags or OBJMODEL_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var path *string
			if a.logFile != "" {
				path = &a.logFile
			}
			commonlog.Configure(a.verbosity, path)

			m, err := loadConfig(a.v, a.configDir)
			if err != nil {
				return err
			}
			a.manifest = m
			log.Debugf("configuration: compact=%t locking=%s class-pointers=%+v",
				m.Header.Compact, m.Header.Locking, m.ClassPointers)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configDir, "config-dir", ".", "directory to start searching for "+manifest.FileName)
	flags.CountVarP(&a.verbosity, "verbose", "v", "increase log verbosity")
	flags.StringVar(&a.logFile, "log-file", "", "write logs to a file instead of stderr")
	bindConfigFlags(a.v, flags)

	rootCmd.AddCommand(
		newDecodeCmd(a),
		newKlutCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}
