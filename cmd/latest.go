package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/s0up4200/molnus/config"
	"github.com/s0up4200/molnus/coordinator"
	"github.com/s0up4200/molnus/entity"
	"github.com/s0up4200/molnus/molnus"
)

var (
	latestCamera string
	latestOutput string

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7EE787"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8B949E")).Width(16)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF7B72"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#30363D")).
			Padding(0, 1)
)

// latestCmd represents the latest command
var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the latest image of each camera",
	Long: `Run one refresh per camera and print the latest image with its metadata.
Use --output json for the same sensor projection the HTTP API serves.`,
	PreRunE: initializeApp,
	RunE:    runLatest,
}

func init() {
	rootCmd.AddCommand(latestCmd)

	latestCmd.Flags().StringVar(&latestCamera, "camera", "", "only show this camera id")
	latestCmd.Flags().StringVarP(&latestOutput, "output", "o", "text", "output format (text/json)")
}

type latestResult struct {
	CameraID string             `json:"camera_id"`
	Name     string             `json:"name"`
	Images   int                `json:"images"`
	Sensor   entity.SensorState `json:"sensor"`
	Error    string             `json:"error,omitempty"`
}

func runLatest(cmd *cobra.Command, args []string) error {
	if latestOutput != "text" && latestOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", latestOutput)
	}

	cameras, err := selectCameras(latestCamera)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	results := make([]latestResult, 0, len(cameras))
	for _, camera := range cameras {
		results = append(results, fetchLatest(ctx, camera))
	}

	if latestOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, r := range results {
		fmt.Println(renderLatest(r))
	}
	return nil
}

func fetchLatest(ctx context.Context, camera config.CameraConfig) latestResult {
	result := latestResult{CameraID: camera.CameraID, Name: camera.Name}

	client, err := newClient(camera)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	coord, err := newCoordinator(client, camera)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	refreshErr := coord.Refresh(ctx)
	result = latestFromState(camera, coord.Data(), coord.LastUpdateSuccess())
	if refreshErr != nil {
		result.Error = refreshErr.Error()
	}
	return result
}

func renderLatest(r latestResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s (%s)", r.Name, r.CameraID)))
	b.WriteString("\n")

	if r.Error != "" {
		b.WriteString(errorStyle.Render("✗ " + r.Error))
		return boxStyle.Render(b.String())
	}

	if !r.Sensor.Known() {
		b.WriteString("No images yet")
		return boxStyle.Render(b.String())
	}

	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Image ID", r.Sensor.Value)
	for _, key := range []string{"captureDate", "createdAt", "deviceFilename", "url", "thumbnailUrl"} {
		if v, ok := r.Sensor.Attributes[key].(string); ok {
			row(key, v)
		}
	}
	row("Predictions", formatPredictions(r.Sensor.Attributes["predictions"]))
	row("Fetched", fmt.Sprintf("%d image(s)", r.Images))

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func formatPredictions(v any) string {
	predictions, ok := v.([]molnus.Prediction)
	if !ok {
		return ""
	}

	parts := make([]string, 0, len(predictions))
	for _, p := range predictions {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", p.Label, p.Accuracy*100))
	}
	return strings.Join(parts, ", ")
}

func latestFromState(camera config.CameraConfig, state *coordinator.State, ok bool) latestResult {
	result := latestResult{
		CameraID: camera.CameraID,
		Name:     camera.Name,
		Sensor:   entity.LatestImageSensor(state, ok),
	}
	if state != nil {
		result.Images = len(state.Images)
	}
	return result
}
