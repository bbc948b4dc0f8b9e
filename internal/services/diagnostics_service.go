package services

import (
	"context"
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/locahq/loca-agent/internal/coordinator"
	"github.com/locahq/loca-agent/internal/models"
	"github.com/locahq/loca-agent/pkg/mqtt"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/mem"
)

// CoordinatorStatus is the coordinator surface diagnostics reads.
type CoordinatorStatus interface {
	Snapshot() *coordinator.Snapshot
	LastUpdateSuccess() uint64
	LastError() *coordinator.ErrorState
	EmptyFetchStreak() int
}

// APIStatus exposes the client's read-only diagnostic properties.
type APIStatus interface {
	HasCredentials() bool
	IsAuthenticated() bool
	GroupsCacheSize() int
}

// DiagnosticsService periodically publishes an agent health payload to the
// MQTT broker. Credentials never appear in the payload, only whether they
// are configured.
type DiagnosticsService struct {
	// Configuration fields
	topic    string
	interval time.Duration
	qos      int

	// Dependencies
	coordinator CoordinatorStatus
	api         APIStatus
	mqttClient  mqtt.MQTTClient
	logger      zerolog.Logger

	// Internal state management
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDiagnosticsService creates a new DiagnosticsService instance.
func NewDiagnosticsService(topic string, interval time.Duration, qos int, coordinatorStatus CoordinatorStatus,
	apiStatus APIStatus, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *DiagnosticsService {
	return &DiagnosticsService{
		topic:       topic,
		interval:    interval,
		qos:         qos,
		coordinator: coordinatorStatus,
		api:         apiStatus,
		mqttClient:  mqttClient,
		logger:      logger,
	}
}

// Start begins the periodic diagnostics publishing loop.
func (d *DiagnosticsService) Start() error {
	if d.ctx != nil {
		d.logger.Warn().Msg("DiagnosticsService is already running")
		return errors.New("diagnostics service is already running")
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.startedAt = time.Now()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := d.publishDiagnostics(); err != nil {
					d.logger.Error().Err(err).Msg("Failed to publish diagnostics")
				}
			case <-d.ctx.Done():
				d.logger.Info().Msg("DiagnosticsService is stopping")
				return
			}
		}
	}()

	d.logger.Info().
		Str("topic", d.topic).
		Dur("interval", d.interval).
		Msg("DiagnosticsService started")
	return nil
}

// Stop gracefully stops the DiagnosticsService.
func (d *DiagnosticsService) Stop() error {
	if d.ctx == nil {
		d.logger.Warn().Msg("DiagnosticsService is not running")
		return errors.New("diagnostics service is not running")
	}

	d.cancel()
	d.wg.Wait()
	d.ctx = nil

	d.logger.Info().Msg("DiagnosticsService stopped")
	return nil
}

// publishDiagnostics collects and publishes one diagnostics payload.
func (d *DiagnosticsService) publishDiagnostics() error {
	payload, err := json.Marshal(d.collect())
	if err != nil {
		return err
	}

	token := d.mqttClient.Publish(d.topic, byte(d.qos), false, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	d.logger.Debug().Str("topic", d.topic).Msg("Published diagnostics")
	return nil
}

// collect assembles the diagnostics payload from the coordinator, the API
// client and the host process.
func (d *DiagnosticsService) collect() models.Diagnostics {
	diagnostics := models.Diagnostics{
		Timestamp: time.Now().UTC(),
		Coordinator: models.CoordinatorDiagnostics{
			DeviceCount:       len(d.coordinator.Snapshot().Devices),
			LastUpdateSuccess: d.coordinator.LastUpdateSuccess(),
			EmptyFetchStreak:  d.coordinator.EmptyFetchStreak(),
		},
		API: models.APIDiagnostics{
			HasCredentials:  d.api.HasCredentials(),
			IsAuthenticated: d.api.IsAuthenticated(),
			GroupsCacheSize: d.api.GroupsCacheSize(),
		},
		Process: models.ProcessDiagnostics{
			UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
		},
	}

	if errState := d.coordinator.LastError(); errState != nil {
		diagnostics.Coordinator.LastErrorKind = string(errState.Kind)
		diagnostics.Coordinator.LastErrorMessage = errState.Message
	}

	if memStats, err := mem.VirtualMemory(); err == nil {
		diagnostics.Process.MemoryUsedPercent = memStats.UsedPercent
	} else {
		d.logger.Debug().Err(err).Msg("Failed to read memory statistics")
	}

	return diagnostics
}
