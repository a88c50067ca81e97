// Package inventory maintains the set of physical targets discovered at
// server startup and resolves symbolic selectors against them.
package inventory

import (
	"errors"
	"fmt"

	"github.com/bobmcallan/hilci/internal/models"
)

// ErrDuplicateSerial is returned by Push when a Target's ProbeSerial
// duplicates one already held by the Inventory.
var ErrDuplicateSerial = errors.New("duplicate probe serial")

// Inventory is the immutable-after-construction set of Targets reachable by
// this server. It is safe for concurrent read access from any goroutine
// once construction (Push) is complete.
type Inventory struct {
	targets    []models.Target
	bySerial   map[string]int
	byAlias    map[string]int
	byName     map[string]int
	byGroup    map[string][]int
}

// New returns an empty Inventory.
func New() *Inventory {
	return &Inventory{
		bySerial: make(map[string]int),
		byAlias:  make(map[string]int),
		byName:   make(map[string]int),
		byGroup:  make(map[string][]int),
	}
}

// Push adds a Target to the Inventory. It fails with ErrDuplicateSerial if
// the probe serial is already held. Not safe to call concurrently with
// itself or with the lookup methods — callers build the Inventory fully at
// startup before handing it to the rest of the engine.
func (inv *Inventory) Push(t models.Target) error {
	if _, exists := inv.bySerial[t.ProbeSerial]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSerial, t.ProbeSerial)
	}

	idx := len(inv.targets)
	inv.targets = append(inv.targets, t)
	inv.bySerial[t.ProbeSerial] = idx

	if t.ProbeAlias != "" {
		if _, exists := inv.byAlias[t.ProbeAlias]; !exists {
			inv.byAlias[t.ProbeAlias] = idx
		}
	}
	if t.TargetName != "" {
		if _, exists := inv.byName[t.TargetName]; !exists {
			inv.byName[t.TargetName] = idx
		}
	}
	for _, g := range t.Groups {
		inv.byGroup[g] = append(inv.byGroup[g], idx)
	}

	return nil
}

// Len returns the number of Targets held.
func (inv *Inventory) Len() int {
	return len(inv.targets)
}

// All returns every Target, in Push order.
func (inv *Inventory) All() []models.Target {
	out := make([]models.Target, len(inv.targets))
	copy(out, inv.targets)
	return out
}

// FindByProbeSerial returns the first Target with the given probe serial.
func (inv *Inventory) FindByProbeSerial(serial string) (models.Target, bool) {
	idx, ok := inv.bySerial[serial]
	if !ok {
		return models.Target{}, false
	}
	return inv.targets[idx], true
}

// FindByTargetName returns the first Target with the given MCU part name.
func (inv *Inventory) FindByTargetName(name string) (models.Target, bool) {
	idx, ok := inv.byName[name]
	if !ok {
		return models.Target{}, false
	}
	return inv.targets[idx], true
}

// FindByProbeAlias returns the first Target with the given human alias.
func (inv *Inventory) FindByProbeAlias(alias string) (models.Target, bool) {
	idx, ok := inv.byAlias[alias]
	if !ok {
		return models.Target{}, false
	}
	return inv.targets[idx], true
}

// FindByGroup returns every Target carrying the given group label, in Push
// order. May be empty.
func (inv *Inventory) FindByGroup(group string) []models.Target {
	idxs := inv.byGroup[group]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]models.Target, len(idxs))
	for i, idx := range idxs {
		out[i] = inv.targets[idx]
	}
	return out
}
