package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s0up4200/molnus/molnus"
)

var (
	testCamera  string
	testRelogin bool
)

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the Molnus credentials of each camera",
	Long: `Log in with each camera's credentials and request its newest image.
With --relogin the cached token is dropped and a second login is performed,
which exercises the same path a rejected token takes.`,
	PreRunE: initializeApp,
	RunE:    runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().StringVar(&testCamera, "camera", "", "only test this camera id")
	testCmd.Flags().BoolVar(&testRelogin, "relogin", false, "force a second login after the first")
}

func runTest(cmd *cobra.Command, args []string) error {
	cameras, err := selectCameras(testCamera)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	failed := 0
	for _, camera := range cameras {
		fmt.Printf("Testing camera %s at %s...\n", camera.CameraID, cfg.Molnus.BaseURL)

		client, err := newClient(camera)
		if err != nil {
			return err
		}

		if _, err := client.EnsureToken(ctx); err != nil {
			fmt.Printf("✗ Login failed: %v\n\n", err)
			failed++
			continue
		}
		fmt.Println("✓ Login successful!")

		if testRelogin {
			client.Invalidate()
			if _, err := client.EnsureToken(ctx); err != nil {
				fmt.Printf("✗ Second login failed: %v\n\n", err)
				failed++
				continue
			}
			fmt.Printf("✓ Second login successful (%d logins)\n", client.LoginCount())
		}

		images, err := client.GetImages(ctx, molnus.ImageQuery{
			CameraID:         camera.CameraID,
			Limit:            1,
			WildlifeRequired: camera.WildlifeRequired,
		})
		if err != nil {
			fmt.Printf("✗ Image request failed: %v\n\n", err)
			failed++
			continue
		}

		if len(images) == 0 {
			fmt.Println("✓ Image request successful, no images yet")
		} else {
			fmt.Printf("✓ Image request successful, newest id %s (%s)\n", images[0].ID, images[0].Timestamp())
		}
		fmt.Println()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d cameras failed", failed, len(cameras))
	}
	return nil
}
