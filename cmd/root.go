package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/s0up4200/molnus/config"
	"github.com/s0up4200/molnus/coordinator"
	"github.com/s0up4200/molnus/filter"
	"github.com/s0up4200/molnus/molnus"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger

	version   = "dev"
	buildTime = "unknown"

	// httpClient is shared by every Molnus client
	httpClient = &http.Client{}

	compiler = filter.NewExprCompiler(filter.WithCache(32))
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "molnus",
	Short: "Bridge Molnus wildlife cameras into Home Assistant",
	Long: `molnus polls the Molnus cloud service for the latest image of each
configured wildlife camera and exposes it to Home Assistant as a sensor
(latest image id and metadata) and a camera (latest image bytes) over
MQTT discovery and a small local HTTP API.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetVersion records build information for the version and update commands
func SetVersion(v, built string) {
	version = v
	buildTime = built
	rootCmd.Version = fmt.Sprintf("%s (built %s)", v, built)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

// initializeApp loads the configuration and sets up logging
func initializeApp(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger = setupLogger(cfg.Logging)
	return nil
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Console format, colored only on a terminal
	useColor := cfg.Color && isatty.IsTerminal(os.Stderr.Fd())
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !useColor,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// newClient builds the API client for one camera entry
func newClient(camera config.CameraConfig) (*molnus.Client, error) {
	opts := []molnus.Option{
		molnus.WithHTTPClient(httpClient),
		molnus.WithTokenTTL(cfg.Molnus.TokenTTL),
		molnus.WithUserAgent(cfg.Molnus.UserAgent),
	}
	if cfg.Molnus.Timeout > 0 {
		opts = append(opts, molnus.WithTimeout(cfg.Molnus.Timeout))
	}

	client, err := molnus.NewClient(
		cfg.Molnus.BaseURL,
		camera.Email,
		camera.Password,
		logger.With().Str("camera_id", camera.CameraID).Logger(),
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Molnus client for camera %s: %w", camera.CameraID, err)
	}
	return client, nil
}

// newCoordinator builds the polling coordinator for one camera entry
func newCoordinator(client coordinator.ImageSource, camera config.CameraConfig) (*coordinator.Coordinator, error) {
	var f filter.Filter
	if camera.Filter != "" {
		var err error
		f, err = compiler.Compile(camera.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter for camera %s: %w", camera.CameraID, err)
		}
	}

	return coordinator.New(client, coordinator.Config{
		CameraID:         camera.CameraID,
		WildlifeRequired: camera.WildlifeRequired,
		Limit:            camera.Limit,
		ScanInterval:     camera.Interval(),
		Filter:           f,
	}, logger)
}

// selectCameras returns the configured cameras, optionally narrowed to one id
func selectCameras(cameraID string) ([]config.CameraConfig, error) {
	if cameraID == "" {
		return cfg.Cameras, nil
	}
	for _, c := range cfg.Cameras {
		if c.CameraID == cameraID {
			return []config.CameraConfig{c}, nil
		}
	}
	return nil, fmt.Errorf("camera '%s' not found in config", cameraID)
}
