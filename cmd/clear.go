package cmd

import (
	"context"
	"time"

	"example.com/backstage/waterweb/config"
	"example.com/backstage/waterweb/internal/database"
	"example.com/backstage/waterweb/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var confirmClear bool

// clearCmd empties every table
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all devices, samples and commands",
	Long: `Deletes every row from the devices, water_quality and commands tables in a
single transaction. The schema is kept. Requires --yes.`,
	Run: func(cmd *cobra.Command, args []string) {
		runClear()
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().BoolVar(&confirmClear, "yes", false, "confirm deleting all data")
}

func runClear() {
	if !confirmClear {
		log.Fatal("Refusing to clear the database without --yes")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := repository.NewRepository(db).ClearAll(ctx)
	if err != nil {
		log.Fatalf("Failed to clear database: %v", err)
	}

	log.WithFields(logrus.Fields{
		"devices":  result.Devices,
		"metrics":  result.Metrics,
		"commands": result.Commands,
	}).Info("Database cleared")
}
