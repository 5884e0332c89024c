package main

import (
	"context"
	"fmt"
	"time"

	container "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Container"
)

func main() {
	ctr, err := container.NewDevCheckerContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	cfg := ctr.GetConfig()
	ctr.WritePIDFile(cfg.Process.PIDFile)

	store, err := ctr.GetStore()
	if err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Failed to connect to device store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer cancel()

	notSeenFor := time.Duration(cfg.DaysSinceLastSeen) * 24 * time.Hour
	changed, err := store.UpdateVisibility(ctx, notSeenFor)
	if err != nil {
		ctr.Shutdown(context.Background())
		logger.FatalWithError(err, "Visibility sweep failed")
	}
	logger.Logger.Info().Int("days", cfg.DaysSinceLastSeen).Int64("changed", changed).Msg("Device visibility updated")
}
