package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s0up4200/molnus/entity"
	"github.com/s0up4200/molnus/registry"
)

var migrateDryRun bool

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rename legacy entity ids in the registry",
	Long: `Move each camera's sensor and camera entities off the ids generated from
the old "Molnus Camera" device name onto stable ids built from the camera id,
for example sensor.molnus_12345_latest_image_id.

Renames that would collide with an existing entity, or whose source no longer
exists, are skipped. The run command performs the same migration at startup.`,
	PreRunE: initializeApp,
	RunE:    runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVarP(&migrateDryRun, "dry-run", "d", false, "show the renames without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	reg, err := registry.Open(cfg.Registry.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open entity registry: %w", err)
	}

	var migrations []registry.Migration
	for _, camera := range cfg.Cameras {
		migrations = append(migrations, reg.LegacyMigrations(camera.CameraID)...)
	}

	if len(migrations) == 0 {
		fmt.Println("No legacy entity ids found.")
		return nil
	}

	for _, m := range migrations {
		status := ""
		if _, taken := reg.Lookup(m.To); taken {
			status = " (target taken, will be skipped)"
		}
		fmt.Printf("• %s → %s%s\n", m.From, m.To, status)
	}

	if migrateDryRun {
		fmt.Println("\nDry run, nothing changed.")
		return nil
	}

	renamed := reg.Migrate(migrations)
	fmt.Printf("\nRenamed %d of %d entities in %s\n", renamed, len(migrations), reg.Path())

	for _, camera := range cfg.Cameras {
		fmt.Printf("  %s: %s, %s\n", camera.CameraID,
			entity.SensorEntityID(camera.CameraID), entity.CameraEntityID(camera.CameraID))
	}
	return nil
}
