package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoOpTimeout = 3 * time.Second

// MongoStore keeps the same logical tables as the Postgres schema, one collection each.
// Integer ids come from the counters collection so records stay interchangeable.
type MongoStore struct {
	db       *mongo.Database
	devices  *mongo.Collection
	types    *mongo.Collection
	readings *mongo.Collection
	values   *mongo.Collection
	counters *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:       db,
		devices:  db.Collection("devices"),
		types:    db.Collection("reading_value_types"),
		readings: db.Collection("readings"),
		values:   db.Collection("reading_values"),
		counters: db.Collection("counters"),
	}
}

func (s *MongoStore) findDevice(ctx context.Context, deviceName string) (*mqtmodels.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var dev mqtmodels.Device
	if err := s.devices.FindOne(ctx, bson.M{"device_name": deviceName}).Decode(&dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

func (s *MongoStore) GetDeviceID(ctx context.Context, deviceName string) (int64, error) {
	dev, err := s.findDevice(ctx, deviceName)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("%w: %s", interfaces.ErrDeviceNotFound, deviceName)
		}
		return 0, fmt.Errorf("failed to look up device %s: %w", deviceName, err)
	}
	return dev.DeviceID, nil
}

func (s *MongoStore) GetLastSeen(ctx context.Context, deviceName string) (time.Time, bool, error) {
	dev, err := s.findDevice(ctx, deviceName)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read last_seen for %s: %w", deviceName, err)
	}
	if dev.LastSeen == nil {
		return time.Time{}, false, nil
	}
	return dev.LastSeen.UTC(), true, nil
}

func (s *MongoStore) UpdateLastSeen(ctx context.Context, deviceID int64, lastSeen time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.devices.UpdateOne(ctx,
		bson.M{"device_id": deviceID},
		bson.M{"$set": bson.M{"last_seen": lastSeen.UTC(), "visible": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to update last_seen for device %d: %w", deviceID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: id %d", interfaces.ErrDeviceNotFound, deviceID)
	}
	return nil
}

func (s *MongoStore) UpdateVisibility(ctx context.Context, notSeenFor time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-notSeenFor)
	hidden, err := s.devices.UpdateMany(ctx,
		bson.M{
			"visible": bson.M{"$ne": false},
			"$or": bson.A{
				bson.M{"last_seen": bson.M{"$lt": cutoff}},
				bson.M{"last_seen": nil},
			},
		},
		bson.M{"$set": bson.M{"visible": false}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to hide stale devices: %w", err)
	}
	shown, err := s.devices.UpdateMany(ctx,
		bson.M{"visible": bson.M{"$ne": true}, "last_seen": bson.M{"$gte": cutoff}},
		bson.M{"$set": bson.M{"visible": true}},
	)
	if err != nil {
		return hidden.ModifiedCount, fmt.Errorf("failed to show active devices: %w", err)
	}
	return hidden.ModifiedCount + shown.ModifiedCount, nil
}

func (s *MongoStore) ListValueTypes(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cur, err := s.types.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list value types: %w", err)
	}
	var vts []mqtmodels.ValueType
	if err := cur.All(ctx, &vts); err != nil {
		return nil, fmt.Errorf("failed to decode value types: %w", err)
	}

	types := make(map[string]int64, len(vts))
	for _, vt := range vts {
		types[vt.ShortDescr] = vt.ID
	}
	return types, nil
}

func (s *MongoStore) CreateReading(ctx context.Context, rec mqtmodels.CanonicalRecord) (int64, error) {
	id, err := s.nextSequence(ctx, "readings")
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	rec.ID = id
	rec.StoredAt = rec.StoredAt.UTC()
	if _, err := s.readings.InsertOne(ctx, rec); err != nil {
		return 0, fmt.Errorf("failed to insert reading for device %d: %w", rec.DeviceID, err)
	}
	return id, nil
}

func (s *MongoStore) CreateReadingValue(ctx context.Context, value mqtmodels.ReadingValue) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if _, err := s.values.InsertOne(ctx, value); err != nil {
		return fmt.Errorf("failed to insert value %s for reading %d: %w", value.Key, value.ReadingID, err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	return s.db.Client().Ping(ctx, readpref.Primary())
}

func (s *MongoStore) nextSequence(ctx context.Context, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	return counter.Seq, nil
}
