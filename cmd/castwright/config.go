package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/castwright/internal/api"
	"github.com/jackzampolin/castwright/internal/config"
	"github.com/jackzampolin/castwright/internal/home"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create local configuration",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file into the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		path := home.Resolve(cfgFile, h.ConfigPath())
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Println("Wrote", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration without a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		mgr, err := config.NewManager(configPath(h))
		if err != nil {
			return err
		}

		if api.IsStructuredOutput() {
			return api.Output(mgr.Get())
		}
		var rows [][]string
		for _, e := range config.DefaultEntries() {
			v, err := mgr.Value(e.Key)
			if err != nil {
				return err
			}
			rows = append(rows, []string{e.Key, fmt.Sprint(v), e.Description})
		}
		fmt.Println(api.RenderTable([]string{"KEY", "VALUE", "DESCRIPTION"}, rows))
		if f := mgr.File(); f != "" {
			fmt.Println("from", f)
		}
		return nil
	},
}

// configPath prefers --config, then the home directory's config.yaml.
// Empty lets viper search its default locations.
func configPath(h *home.Dir) string {
	if cfgFile != "" {
		return cfgFile
	}
	if h.ConfigExists() {
		return h.ConfigPath()
	}
	return ""
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
