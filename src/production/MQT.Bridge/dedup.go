package mqtbridge

import (
	"context"
	"fmt"
	"time"

	logger "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Logger"
	mqtmodels "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Models"
	interfaces "gitlab.com/connectedhumber/aq.mqtt_bridges/src/production/MQT.Repository/Interfaces"
)

// Scope selects what a last-seen mark covers
type Scope int

const (
	// ScopeSource keeps one mark for the whole bridge
	ScopeSource Scope = iota
	// ScopeDevice keeps one mark per device code
	ScopeDevice
)

// Deduplicator suppresses readings at or before the last-seen mark
type Deduplicator struct {
	store    interfaces.MarkStore
	scope    Scope
	source   string
	fallback time.Time
	logger   *logger.Logger

	marks map[string]time.Time
	seen  map[string]time.Time
}

// NewDeduplicator creates a deduplicator. fallback is used for keys that have no stored mark.
func NewDeduplicator(store interfaces.MarkStore, scope Scope, source string, fallback time.Time, log *logger.Logger) *Deduplicator {
	return &Deduplicator{
		store:    store,
		scope:    scope,
		source:   source,
		fallback: fallback.UTC(),
		logger:   log.WithComponent("dedup"),
		marks:    make(map[string]time.Time),
		seen:     make(map[string]time.Time),
	}
}

func (d *Deduplicator) key(r mqtmodels.Reading) string {
	if d.scope == ScopeDevice {
		return r.DeviceCode
	}
	return d.source
}

// Mark returns the mark for key, loading it on first use
func (d *Deduplicator) Mark(ctx context.Context, key string) (time.Time, error) {
	if m, ok := d.marks[key]; ok {
		return m, nil
	}
	m, ok, err := d.store.Load(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load last-seen mark for %s: %w", key, err)
	}
	if !ok {
		d.logger.Logger.Info().Str("key", key).Time("fallback", d.fallback).Msg("No last-seen mark, using fallback")
		m = d.fallback
	}
	d.marks[key] = m
	return m, nil
}

// Prime loads the marks covering readings
func (d *Deduplicator) Prime(ctx context.Context, readings []mqtmodels.Reading) error {
	for _, r := range readings {
		if _, err := d.Mark(ctx, d.key(r)); err != nil {
			return err
		}
	}
	return nil
}

// ShouldPublish reports whether r is newer than its mark. Unprimed keys compare against the fallback.
func (d *Deduplicator) ShouldPublish(r mqtmodels.Reading) bool {
	mark, ok := d.marks[d.key(r)]
	if !ok {
		mark = d.fallback
	}
	return r.Timestamp.After(mark)
}

// Observe records r's timestamp as seen in this run
func (d *Deduplicator) Observe(r mqtmodels.Reading) {
	k := d.key(r)
	if cur, ok := d.seen[k]; !ok || r.Timestamp.After(cur) {
		d.seen[k] = r.Timestamp.UTC()
	}
}

// Commit persists every observed maximum that is newer than its mark
func (d *Deduplicator) Commit(ctx context.Context) error {
	for k, ts := range d.seen {
		mark, ok := d.marks[k]
		if !ok {
			mark = d.fallback
		}
		if !ts.After(mark) {
			continue
		}
		if err := d.store.Save(ctx, k, ts); err != nil {
			return fmt.Errorf("failed to save last-seen mark for %s: %w", k, err)
		}
		d.marks[k] = ts
		d.logger.Logger.Debug().Str("key", k).Time("mark", ts).Msg("Advanced last-seen mark")
	}
	d.seen = make(map[string]time.Time)
	return nil
}
