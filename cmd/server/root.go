package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thebowwman/delisim/internals/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "delisim",
	Short: "Simulates live driver positions for in-transit deliveries",
	Long: `delisim geocodes a delivery address, builds a road route from the depot and
streams simulated driver positions over websocket, Kafka and Redis until the
driver arrives and the delivery is marked delivered.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(cfgFile)
		if err != nil {
			return err
		}
		if err := bindFlags(cmd, v); err != nil {
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return serve(cmd.Context(), cfg)
	},
}

// flag name -> config key
var flagKeys = map[string]string{
	"addr":          "http_addr",
	"ors-key":       "ors.api_key",
	"database-url":  "database_url",
	"kafka-enabled": "kafka.enabled",
	"kafka-brokers": "kafka.brokers",
	"redis-url":     "redis.url",
	"tick-interval": "simulation.tick_interval",
	"target-steps":  "simulation.target_steps",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	rootCmd.Flags().String("addr", ":8081", "HTTP listen address")
	rootCmd.Flags().String("ors-key", "", "OpenRouteService API key")
	rootCmd.Flags().String("database-url", "", "Postgres URL (in-memory store when empty)")
	rootCmd.Flags().Bool("kafka-enabled", false, "Publish location updates to Kafka")
	rootCmd.Flags().String("kafka-brokers", "localhost:9092", "Kafka broker list")
	rootCmd.Flags().String("redis-url", "", "Redis URL for pub/sub fan-out (disabled when empty)")
	rootCmd.Flags().Duration("tick-interval", 0, "Interval between simulated positions")
	rootCmd.Flags().Int("target-steps", 0, "Number of waypoints per simulated route")
}

// bindFlags binds only flags set on the command line so unset flags do not
// shadow env or file values.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
