package services

import (
	"context"
	"errors"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/locahq/loca-agent/internal/coordinator"
	"github.com/locahq/loca-agent/internal/entities"
	"github.com/locahq/loca-agent/internal/utils"
	"github.com/locahq/loca-agent/pkg/mqtt"
	"github.com/rs/zerolog"
)

// number of concurrent MQTT publishes per snapshot.
const publishWorkers = 4

// SnapshotSource is the coordinator surface the publisher consumes.
type SnapshotSource interface {
	Snapshot() *coordinator.Snapshot
	LastUpdateSuccess() uint64
	Updates() <-chan struct{}
}

// PublisherService pushes per-device state to the MQTT broker whenever the
// coordinator publishes a new snapshot. State derivation goes through the
// per-entity cache, so unchanged snapshots cost nothing to re-read.
type PublisherService struct {
	// Configuration fields
	topicPrefix string
	qos         int

	// Dependencies
	source     SnapshotSource
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	// Internal state management
	trackers map[string]*entities.Tracker
	pool     *utils.WorkerPool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPublisherService creates a new PublisherService instance.
func NewPublisherService(topicPrefix string, qos int, source SnapshotSource,
	mqttClient mqtt.MQTTClient, logger zerolog.Logger) *PublisherService {
	return &PublisherService{
		topicPrefix: topicPrefix,
		qos:         qos,
		source:      source,
		mqttClient:  mqttClient,
		logger:      logger,
		trackers:    make(map[string]*entities.Tracker),
	}
}

// Start begins forwarding snapshot updates to the MQTT broker.
func (p *PublisherService) Start() error {
	if p.ctx != nil {
		p.logger.Warn().Msg("PublisherService is already running")
		return errors.New("publisher service is already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.pool = utils.NewWorkerPool(publishWorkers)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runPublishLoop()
	}()

	p.logger.Info().
		Str("topic_prefix", p.topicPrefix).
		Int("qos", p.qos).
		Msg("PublisherService started")
	return nil
}

// Stop gracefully stops the PublisherService.
func (p *PublisherService) Stop() error {
	if p.ctx == nil {
		p.logger.Warn().Msg("PublisherService is not running")
		return errors.New("publisher service is not running")
	}

	p.cancel()
	p.wg.Wait()
	p.pool.Shutdown()
	p.ctx = nil

	p.logger.Info().Msg("PublisherService stopped")
	return nil
}

// runPublishLoop waits for snapshot notifications and publishes the derived
// device states.
func (p *PublisherService) runPublishLoop() {
	for {
		select {
		case <-p.source.Updates():
			p.publishStates()
		case <-p.ctx.Done():
			p.logger.Info().Msg("PublisherService is stopping")
			return
		}
	}
}

// publishStates renders one state message per device. Devices that left the
// snapshot get a final unavailable message before their entity is dropped.
func (p *PublisherService) publishStates() {
	snapshot := p.source.Snapshot()

	for deviceID := range snapshot.Devices {
		if _, ok := p.trackers[deviceID]; !ok {
			p.trackers[deviceID] = entities.NewTracker(deviceID, p.source)
		}
	}

	// State derivation stays on this goroutine; only the broker round trips
	// fan out over the pool.
	var pending sync.WaitGroup
	for deviceID, tracker := range p.trackers {
		deviceID := deviceID
		state := tracker.State()

		pending.Add(1)
		p.pool.Submit(func() {
			defer pending.Done()
			if err := p.publishState(deviceID, state); err != nil {
				p.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to publish device state")
			}
		})

		if _, ok := snapshot.Devices[deviceID]; !ok {
			delete(p.trackers, deviceID)
		}
	}
	pending.Wait()
}

// publishState serializes and publishes one device state message.
func (p *PublisherService) publishState(deviceID string, state entities.TrackerState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	topic := p.topicPrefix + "/" + deviceID + "/state"
	token := p.mqttClient.Publish(topic, byte(p.qos), true, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	p.logger.Debug().
		Str("topic", topic).
		Bool("available", state.Available).
		Msg("Published device state")
	return nil
}
