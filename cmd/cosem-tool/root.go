package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cosem-go/internal/cosem"
	"cosem-go/internal/script"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile    string
	dbPath     string
	scriptsDir string
	outputFmt  string
	verbose    bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cosem-tool",
	Short: "Inspect and convert COSEM values and object snapshots",
	Long: `cosem-tool decodes and encodes tagged COSEM values and moves object
snapshots between the daemon's store and XML documents.

Examples:
  # Decode a tagged value
  cosem-tool decode 0202120001110A

  # Encode a date-time text as its octet-string wire form
  cosem-tool encode --type datetime --wire octstr --value "2024-06-01 12:00:00"

  # Export the store to XML and import it elsewhere
  cosem-tool export --db cosem.db --out objects.xml
  cosem-tool import --db other.db --in objects.xml

  # Run a read pass over one object
  cosem-tool read --db cosem.db --ln 1.0.1.8.0.255 --all`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := slog.LevelWarn
		if viper.GetBool("verbose") {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		switch viper.GetString("output") {
		case "table", "json":
		default:
			return fmt.Errorf("unknown output format %q (table, json)", viper.GetString("output"))
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cosem-tool.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "cosem.db", "Object store path")
	rootCmd.PersistentFlags().StringVar(&scriptsDir, "scripts", "", "Directory of class definition scripts")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("scripts", rootCmd.PersistentFlags().Lookup("scripts"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".cosem-tool")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("COSEM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// newFactory builds the object factory, with scripted classes when a
// scripts directory is configured.
func newFactory() (*cosem.Factory, error) {
	dir := viper.GetString("scripts")
	if dir == "" {
		return cosem.NewFactory(logger), nil
	}
	defs, err := script.LoadDir(dir, logger)
	if err != nil {
		return nil, err
	}
	return cosem.NewFactory(logger, cosem.WithResolver(defs.Resolver())), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "cosem-tool version", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
