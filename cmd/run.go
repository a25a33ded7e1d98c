package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/molnus/config"
	"github.com/s0up4200/molnus/coordinator"
	"github.com/s0up4200/molnus/entity"
	"github.com/s0up4200/molnus/molnus"
	"github.com/s0up4200/molnus/mqtt"
	"github.com/s0up4200/molnus/registry"
	"github.com/s0up4200/molnus/server"
)

// setupConcurrency bounds how many entries log in at once
const setupConcurrency = 4

// cameraEntry is one set-up camera with everything built for it
type cameraEntry struct {
	config         config.CameraConfig
	client         *molnus.Client
	coordinator    *coordinator.Coordinator
	camera         *entity.Camera
	sensorEntityID string
	cameraEntityID string
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the configured cameras and publish them",
	Long: `Set up every configured camera, then poll each one on its scan interval
and publish the latest image over MQTT and the local HTTP API until interrupted.

A camera whose first refresh fails is not set up; the others continue.`,
	PreRunE: initializeApp,
	RunE:    runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("version", version).
		Int("cameras", len(cfg.Cameras)).
		Msg("Starting Molnus bridge")

	entries := setupEntries(ctx, cfg.Cameras)
	if len(entries) == 0 {
		return fmt.Errorf("no camera could be set up")
	}

	reg, err := registry.Open(cfg.Registry.Path, logger.With().Str("component", "registry").Logger())
	if err != nil {
		// The registry only names things; run without persisting names
		logger.Warn().Err(err).Msg("Failed to open entity registry, using an empty one")
		reg = registry.New("", logger)
	}
	registerEntities(reg, entries)

	bindings := make([]mqtt.Binding, 0, len(entries))
	cameras := make([]server.Camera, 0, len(entries))
	for _, e := range entries {
		bindings = append(bindings, mqtt.Binding{
			Name:           e.config.Name,
			Source:         e.coordinator,
			Camera:         e.camera,
			SensorEntityID: e.sensorEntityID,
			CameraEntityID: e.cameraEntityID,
		})
		cameras = append(cameras, server.Camera{
			Name:    e.config.Name,
			EntryID: e.config.EntryID,
			Source:  e.coordinator,
			Images:  e.camera,
		})
	}

	var publisher mqtt.Publisher = mqtt.NewStubPublisher(logger)
	if cfg.MQTT.Enabled {
		publisher = mqtt.NewHAPublisher(mqtt.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		}, bindings, logger)
	}
	if err := publisher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT publisher: %w", err)
	}
	defer func() {
		if err := publisher.Stop(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop MQTT publisher")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			e.coordinator.Run(gctx)
			return nil
		})
	}
	if cfg.HTTP.Enabled {
		srv := server.New(cameras, logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.HTTP.Addr)
		})
	}

	logger.Info().Int("cameras", len(entries)).Msg("Molnus bridge running")

	err = g.Wait()
	logger.Info().Msg("Shutting down")
	return err
}

// setupEntries builds a client and coordinator per camera and performs the
// first refresh. Cameras that fail are logged and left out.
func setupEntries(ctx context.Context, cameras []config.CameraConfig) []*cameraEntry {
	results := make([]*cameraEntry, len(cameras))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(setupConcurrency)

	for i, camera := range cameras {
		i, camera := i, camera
		g.Go(func() error {
			e, err := setupEntry(gctx, camera)
			if err != nil {
				logger.Error().
					Err(err).
					Str("camera_id", camera.CameraID).
					Str("entry_id", camera.EntryID).
					Msg("Failed to set up camera")
				// Continue with the other cameras
				return nil
			}
			results[i] = e
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]*cameraEntry, 0, len(results))
	for _, e := range results {
		if e != nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func setupEntry(ctx context.Context, camera config.CameraConfig) (*cameraEntry, error) {
	client, err := newClient(camera)
	if err != nil {
		return nil, err
	}

	coord, err := newCoordinator(client, camera)
	if err != nil {
		return nil, err
	}

	if err := coord.FirstRefresh(ctx); err != nil {
		return nil, err
	}

	latest := coord.Data().Latest
	logger.Info().
		Str("camera_id", camera.CameraID).
		Str("latest_id", latest.ID.String()).
		Msg("Camera set up")

	return &cameraEntry{
		config:      camera,
		client:      client,
		coordinator: coord,
		camera:      entity.NewCamera(camera.CameraID, client, logger),
	}, nil
}

// registerEntities migrates legacy entity ids and registers the sensor and
// camera of every entry. Registry problems never block startup.
func registerEntities(reg *registry.Registry, entries []*cameraEntry) {
	for _, e := range entries {
		cameraID := e.config.CameraID
		reg.Migrate(reg.LegacyMigrations(cameraID))

		sensor, err := reg.Register(entity.SensorUniqueID(cameraID), entity.SensorEntityID(cameraID), e.config.EntryID)
		if err != nil {
			logger.Warn().Err(err).Str("camera_id", cameraID).Msg("Failed to register sensor")
			sensor.EntityID = entity.SensorEntityID(cameraID)
		}
		camera, err := reg.Register(entity.CameraUniqueID(cameraID), entity.CameraEntityID(cameraID), e.config.EntryID)
		if err != nil {
			logger.Warn().Err(err).Str("camera_id", cameraID).Msg("Failed to register camera")
			camera.EntityID = entity.CameraEntityID(cameraID)
		}

		e.sensorEntityID = sensor.EntityID
		e.cameraEntityID = camera.EntityID
	}

	if err := reg.Save(); err != nil {
		logger.Warn().Err(err).Msg("Failed to save entity registry")
	}
}
