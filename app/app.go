// Package app wires the parsing and training engines into a command line
// interface.
package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config carries the search and training scalars. Everything is
// settable from the config file and overridable by flags.
type Config struct {
	System      string  `mapstructure:"system"`
	BeamWidth   int     `mapstructure:"beam_width"`
	BeamDensity float64 `mapstructure:"beam_density"`
	EmbedDim    int     `mapstructure:"embed_dim"`
	Workers     int     `mapstructure:"workers"`
	Epochs      int     `mapstructure:"epochs"`
	BatchSize   int     `mapstructure:"batch_size"`
	LearnRate   float64 `mapstructure:"learn_rate"`
	Seed        int64   `mapstructure:"seed"`
}

var (
	cfgFile string
	cfg     Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "spacy",
	Short:         "Transition-based dependency parsing and training",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML)")
	pf.String("system", "arceager", "transition system (arceager or arcstandard)")
	pf.Int("beam-width", 1, "beam width; 1 selects the batched greedy engine")
	pf.Float64("beam-density", 0.0, "relative score margin for beam pruning")
	pf.Int("embed-dim", 32, "token embedding width")
	pf.Int("workers", 4, "worker pool size for the fast path")
	pf.Int("epochs", 5, "training epochs")
	pf.Int("batch-size", 32, "training batch size")
	pf.Float64("learn-rate", 0.01, "learning rate")
	pf.Int64("seed", 1, "model init seed")
	pf.Bool("verbose", false, "debug logging")
}

func initConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetDefault("system", "arceager")
	v.SetDefault("beam_width", 1)
	v.SetDefault("beam_density", 0.0)
	v.SetDefault("embed_dim", 32)
	v.SetDefault("workers", 4)
	v.SetDefault("epochs", 5)
	v.SetDefault("batch_size", 32)
	v.SetDefault("learn_rate", 0.01)
	v.SetDefault("seed", 1)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	// flags win over file values
	for _, name := range []string{"system", "beam-width", "beam-density", "embed-dim", "workers", "epochs", "batch-size", "learn-rate", "seed"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			key := map[string]string{
				"beam-width": "beam_width", "beam-density": "beam_density",
				"embed-dim": "embed_dim", "batch-size": "batch_size",
				"learn-rate": "learn_rate",
			}[name]
			if key == "" {
				key = name
			}
			v.Set(key, f.Value.String())
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
