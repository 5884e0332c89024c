package mqtloader

import (
	"context"
	"sync"
	"time"

	mqtbroker "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Broker"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

// memStore is an in-memory interfaces.Store
type memStore struct {
	mu       sync.Mutex
	devices  map[string]int64
	types    map[string]int64
	lastSeen map[int64]time.Time
	readings []mqtmodels.CanonicalRecord
	values   []mqtmodels.ReadingValue
	pingErr  error
	pings    int
	valueErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		devices:  map[string]int64{"CL-123": 1, "TTN-7": 2},
		types:    map[string]int64{"humidity": 1, "PM10": 2, "PM25": 3, "temperature": 4},
		lastSeen: map[int64]time.Time{},
	}
}

func (s *memStore) GetDeviceID(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.devices[name]
	if !ok {
		return 0, interfaces.ErrDeviceNotFound
	}
	return id, nil
}

func (s *memStore) GetLastSeen(_ context.Context, name string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSeen[s.devices[name]]
	return t, ok, nil
}

func (s *memStore) UpdateLastSeen(_ context.Context, id int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[id] = t
	return nil
}

func (s *memStore) UpdateVisibility(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (s *memStore) ListValueTypes(context.Context) (map[string]int64, error) {
	return s.types, nil
}

func (s *memStore) CreateReading(_ context.Context, rec mqtmodels.CanonicalRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = int64(len(s.readings) + 1)
	s.readings = append(s.readings, rec)
	return rec.ID, nil
}

func (s *memStore) CreateReadingValue(_ context.Context, v mqtmodels.ReadingValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.valueErr[v.Key]; err != nil {
		return err
	}
	s.values = append(s.values, v)
	return nil
}

func (s *memStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *memStore) readingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

type stubBroker struct {
	connected bool
	awaitErr  error
}

func (b *stubBroker) IsConnected() bool { return b.connected }

func (b *stubBroker) AwaitState(context.Context, mqtbroker.State, time.Duration) error {
	return b.awaitErr
}

type stubSubscription struct {
	topic   string
	handler mqtbroker.MessageHandler
}

func (s *stubSubscription) Subscribe(topic string, h mqtbroker.MessageHandler) error {
	s.topic = topic
	s.handler = h
	return nil
}
