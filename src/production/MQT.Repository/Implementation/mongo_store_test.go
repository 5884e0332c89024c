package implementation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoStoreDevices(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("device found", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		seen := time.Date(2021, 1, 1, 9, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "aq.devices", mtest.FirstBatch, bson.D{
			{Key: "device_id", Value: int64(7)},
			{Key: "device_name", Value: "CL-123"},
			{Key: "last_seen", Value: seen},
			{Key: "visible", Value: true},
		}))

		id, err := store.GetDeviceID(context.Background(), "CL-123")
		require.NoError(mt, err)
		assert.Equal(mt, int64(7), id)
	})

	mt.Run("device missing", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "aq.devices", mtest.FirstBatch))

		_, err := store.GetDeviceID(context.Background(), "CL-999")
		assert.ErrorIs(mt, err, interfaces.ErrDeviceNotFound)
	})

	mt.Run("last seen never set", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "aq.devices", mtest.FirstBatch, bson.D{
			{Key: "device_id", Value: int64(8)},
			{Key: "device_name", Value: "Hull Freetown"},
		}))

		_, ok, err := store.GetLastSeen(context.Background(), "Hull Freetown")
		require.NoError(mt, err)
		assert.False(mt, ok)
	})

	mt.Run("update last seen", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		err := store.UpdateLastSeen(context.Background(), 7, time.Now())
		require.NoError(mt, err)
	})

	mt.Run("update last seen unknown device", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))

		err := store.UpdateLastSeen(context.Background(), 70, time.Now())
		assert.ErrorIs(mt, err, interfaces.ErrDeviceNotFound)
	})
}

func TestMongoStoreReadings(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("list value types", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		first := mtest.CreateCursorResponse(1, "aq.reading_value_types", mtest.FirstBatch,
			bson.D{{Key: "id", Value: int64(1)}, {Key: "short_descr", Value: "humidity"}},
			bson.D{{Key: "id", Value: int64(3)}, {Key: "short_descr", Value: "PM25"}},
		)
		last := mtest.CreateCursorResponse(0, "aq.reading_value_types", mtest.NextBatch)
		mt.AddMockResponses(first, last)

		types, err := store.ListValueTypes(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, map[string]int64{"humidity": 1, "PM25": 3}, types)
	})

	mt.Run("create reading allocates id", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
				{Key: "_id", Value: "readings"},
				{Key: "seq", Value: int64(42)},
			}}),
			mtest.CreateSuccessResponse(),
		)

		id, err := store.CreateReading(context.Background(), mqtmodels.CanonicalRecord{
			DeviceID:   7,
			StoredAt:   time.Now(),
			RawPayload: `{"dev":"CL-123"}`,
		})
		require.NoError(mt, err)
		assert.Equal(mt, int64(42), id)
	})

	mt.Run("create reading value", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		err := store.CreateReadingValue(context.Background(), mqtmodels.ReadingValue{ReadingID: 42, TypeID: 3, Value: 12.35})
		require.NoError(mt, err)
	})
}
