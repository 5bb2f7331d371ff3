package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cepweb/gocep/internal/config"
	"github.com/cepweb/gocep/internal/engine"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the forest as a genesis log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		fs, path, err := resolveFS(args[0])
		if err != nil {
			return err
		}
		if err := eng.ExportToFile(fs, path); err != nil {
			return err
		}
		fmt.Printf("exported genesis log to %s\n", args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a genesis log, replacing the current forest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		fs, path, err := resolveFS(args[0])
		if err != nil {
			return err
		}
		if err := eng.ImportFromFile(fs, path); err != nil {
			return err
		}
		fmt.Printf("imported genesis log from %s\n", args[0])
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Reset the forest and load the sample T-units",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := eng.InitSampleData(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("seeded %d sample t-units\n", n)
		return nil
	},
}

// openEngine opens the configured store and wraps it in an engine for
// one-shot commands. The returned cleanup closes the store.
func openEngine() (*engine.Engine, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return engine.New(st, zap.NewNop()), func() { st.Close() }, nil
}
