package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hack-pad/hackpadfs"

	"github.com/cepweb/gocep/pkg/cep"
)

// Snapshot is the genesis log interchange format: the full T-unit and
// event state of a forest, portable between instances.
type Snapshot struct {
	TUnits     []*cep.TUnit `json:"t_units"`
	Events     []*cep.Event `json:"events"`
	ExportedAt string       `json:"exported_at"`
}

// Export captures the current store state as a genesis snapshot.
func (e *Engine) Export() (*Snapshot, error) {
	units, err := e.store.ListTUnits("")
	if err != nil {
		return nil, fmt.Errorf("engine: export t-units: %w", err)
	}
	events, err := e.store.ListEvents()
	if err != nil {
		return nil, fmt.Errorf("engine: export events: %w", err)
	}
	return &Snapshot{
		TUnits:     units,
		Events:     events,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Import replaces the entire store state with the snapshot's contents.
func (e *Engine) Import(snap *Snapshot) error {
	if err := e.store.Reset(); err != nil {
		return fmt.Errorf("engine: reset before import: %w", err)
	}
	for _, u := range snap.TUnits {
		if err := e.store.UpsertTUnit(u); err != nil {
			return fmt.Errorf("engine: import t-unit %s: %w", u.ID, err)
		}
	}
	for _, ev := range snap.Events {
		if err := e.store.AppendEvent(ev); err != nil {
			return fmt.Errorf("engine: import event %s: %w", ev.ID, err)
		}
	}
	e.log.Info("genesis imported")
	return nil
}

// ExportToFile writes the genesis snapshot as JSON to the filesystem.
func (e *Engine) ExportToFile(fs hackpadfs.FS, path string) error {
	snap, err := e.Export()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: encode genesis: %w", err)
	}
	if err := hackpadfs.WriteFullFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("engine: write genesis file: %w", err)
	}
	return nil
}

// ImportFromFile reads a genesis snapshot from the filesystem and
// imports it.
func (e *Engine) ImportFromFile(fs hackpadfs.FS, path string) error {
	data, err := hackpadfs.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("engine: read genesis file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("engine: decode genesis: %w", err)
	}
	return e.Import(&snap)
}
