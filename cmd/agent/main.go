package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/locahq/loca-agent/internal/coordinator"
	"github.com/locahq/loca-agent/internal/services"
	"github.com/locahq/loca-agent/internal/utils"
	"github.com/locahq/loca-agent/pkg/file"
	"github.com/locahq/loca-agent/pkg/geocode"
	"github.com/locahq/loca-agent/pkg/loca"
	"github.com/locahq/loca-agent/pkg/mqtt"
	"github.com/rs/zerolog"
)

func main() {
	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Generate a unique MQTT Client ID by appending a UUID
	clientID := config.MQTT.ClientID + "-" + uuid.New().String()
	logger.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

	// Initialize the shared MQTT connection
	mqttClient := mqtt.NewMqttService(fileClient)
	err = mqttClient.Initialize(config.MQTT.Broker, clientID, config.MQTT.Username,
		config.MQTT.Password, config.MQTT.CACertificate)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	// Initialize the Loca API client
	apiClient := loca.NewClient(config.API.BaseURL, loca.Credentials{
		APIKey:   config.API.Key,
		Username: config.API.Username,
		Password: config.API.Password,
	}, time.Duration(config.API.Timeout)*time.Second, logger)

	// Optional reverse geocoding for records without an address
	var resolver coordinator.AddressResolver
	if config.Geocode.MapsAPIKey != "" {
		googleResolver, err := geocode.NewGoogleResolver(config.Geocode.MapsAPIKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create reverse geocoder")
		}
		resolver = googleResolver
	}

	// Start the update coordinator
	updateCoordinator := coordinator.New(apiClient, resolver,
		time.Duration(config.Poll.Interval)*time.Second, logger)
	if err := updateCoordinator.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start coordinator")
	}

	// Start the MQTT state publisher
	publisher := services.NewPublisherService(config.MQTT.TopicPrefix, config.MQTT.QOS,
		updateCoordinator, mqttClient, logger)
	if err := publisher.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start publisher service")
	}

	// Start the diagnostics service when enabled
	var diagnostics *services.DiagnosticsService
	if config.Diagnostics.Enabled {
		diagnostics = services.NewDiagnosticsService(config.MQTT.TopicPrefix+"/diagnostics",
			time.Duration(config.Diagnostics.Interval)*time.Second, config.MQTT.QOS,
			updateCoordinator, apiClient, mqttClient, logger)
		if err := diagnostics.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start diagnostics service")
		}
	}

	logger.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")

	if diagnostics != nil {
		if err := diagnostics.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop diagnostics service")
		}
	}
	if err := publisher.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop publisher service")
	}
	if err := updateCoordinator.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop coordinator")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiClient.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to close API client")
	}

	mqttClient.Disconnect(250)
}
