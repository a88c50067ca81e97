// Package validator turns a submitted JobDescription into an executable Job
// by resolving every selector against the live Inventory, decoding binaries,
// and checking the job-wide invariants (every selector resolved, every probe
// serial claimed at most once). It never short-circuits: a job with three
// unrelated problems gets all three back in one response.
package validator

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/bobmcallan/hilci/internal/inventory"
	"github.com/bobmcallan/hilci/internal/models"
	"github.com/google/uuid"
)

// resolution is one attempted identifier-to-Target lookup, tagged with the
// entry-path it came from so a failure or duplicate can be reported without
// re-deriving the path later.
type resolution struct {
	identifier string
	entryPath  string
	target     *models.Target
}

// Validate resolves desc against inv, returning either a validated Job (with
// fresh ids for the Job and every Task) or the complete set of problems
// found. Exactly one of the two return values is non-empty/non-zero.
func Validate(desc models.JobDescription, inv *inventory.Inventory) (models.Job, []models.ValidationError) {
	var errs []models.ValidationError
	var allResolutions []resolution

	taskTargets := make([][]models.Target, len(desc.Tasks))
	taskBinaries := make([][]byte, len(desc.Tasks))

	for t, task := range desc.Tasks {
		attempts := 0

		for r, sel := range task.RunOn {
			for _, variant := range sel.Variants() {
				for k, id := range variant.Identifiers {
					attempts++
					entryPath := fmt.Sprintf("tasks.%d.run_on.%d.%s.%d", t, r, variant.Name, k)
					allResolutions = append(allResolutions, resolve(variant.Name, id, entryPath, inv)...)
				}
			}
		}

		if attempts == 0 {
			errs = append(errs, models.NoTargetChosen(fmt.Sprintf("tasks.%d.run_on", t)))
		}

		binary, err := base64.StdEncoding.DecodeString(task.BinaryB64)
		if err != nil {
			errs = append(errs, models.Base64DecodingFailed(fmt.Sprintf("tasks.%d.binary_b64", t), err.Error()))
		}
		taskBinaries[t] = binary
	}

	// Step 2: every resolution that found nothing is a TargetNotAvailable.
	for _, res := range allResolutions {
		if res.target == nil {
			errs = append(errs, models.TargetNotAvailable(res.identifier, res.entryPath))
		}
	}

	// Step 3: any probe serial claimed by more than one entry-path is a
	// TargetIsNotUnique, regardless of whether the duplication came from two
	// selectors in the same task, two different tasks, or a group expansion
	// that overlaps an explicit selector.
	var serialOrder []string
	entriesBySerial := make(map[string][]string)
	targetBySerial := make(map[string]models.Target)
	for _, res := range allResolutions {
		if res.target == nil {
			continue
		}
		serial := res.target.ProbeSerial
		if _, seen := entriesBySerial[serial]; !seen {
			serialOrder = append(serialOrder, serial)
			targetBySerial[serial] = *res.target
		}
		entriesBySerial[serial] = append(entriesBySerial[serial], res.entryPath)
	}
	for _, serial := range serialOrder {
		entries := entriesBySerial[serial]
		if len(entries) < 2 {
			continue
		}
		errs = append(errs, models.TargetIsNotUnique(serial, entries))
	}

	if len(errs) > 0 {
		return models.Job{}, errs
	}

	// Every resolution succeeded and every serial is unique: rebuild the
	// per-task target lists in original selector order (duplicates across
	// selectors are impossible here, since step 3 would have failed).
	resIdx := 0
	for t, task := range desc.Tasks {
		taskTargets[t] = collectTaskTargets(task, allResolutions, &resIdx)
	}

	tasks := make([]models.Task, len(desc.Tasks))
	for t := range desc.Tasks {
		tasks[t] = models.Task{
			ID:      uuid.NewString(),
			Targets: taskTargets[t],
			Binary:  taskBinaries[t],
		}
	}

	return models.Job{
		ID:      uuid.NewString(),
		Timeout: time.Duration(desc.TimeoutSeconds) * time.Second,
		Tasks:   tasks,
	}, nil
}

// collectTaskTargets walks the flat resolution list in lockstep with the
// task's own selector/variant/identifier structure to recover, in order,
// every Target this task resolved to. resIdx is advanced past this task's
// share of allResolutions.
func collectTaskTargets(task models.TaskDescription, allResolutions []resolution, resIdx *int) []models.Target {
	var targets []models.Target
	for _, sel := range task.RunOn {
		for _, variant := range sel.Variants() {
			for range variant.Identifiers {
				for *resIdx < len(allResolutions) && belongsToCurrentIdentifier(allResolutions, *resIdx) {
					targets = append(targets, *allResolutions[*resIdx].target)
					*resIdx++
				}
			}
		}
	}
	return targets
}

// belongsToCurrentIdentifier reports whether allResolutions[idx] shares its
// entry-path with allResolutions[idx-1] (i.e. it's another Target produced
// by the same group expansion), or is the first resolution of a fresh
// identifier. Both cases must be consumed by the current identifier's loop
// iteration.
func belongsToCurrentIdentifier(allResolutions []resolution, idx int) bool {
	if idx == 0 {
		return true
	}
	return allResolutions[idx].entryPath == allResolutions[idx-1].entryPath
}

func resolve(variantName, id, entryPath string, inv *inventory.Inventory) []resolution {
	switch variantName {
	case "probe_serials":
		if t, ok := inv.FindByProbeSerial(id); ok {
			return []resolution{{identifier: id, entryPath: entryPath, target: &t}}
		}
	case "probe_aliases":
		if t, ok := inv.FindByProbeAlias(id); ok {
			return []resolution{{identifier: id, entryPath: entryPath, target: &t}}
		}
	case "targets":
		if t, ok := inv.FindByTargetName(id); ok {
			return []resolution{{identifier: id, entryPath: entryPath, target: &t}}
		}
	case "groups":
		members := inv.FindByGroup(id)
		if len(members) == 0 {
			break
		}
		out := make([]resolution, len(members))
		for i := range members {
			t := members[i]
			out[i] = resolution{identifier: id, entryPath: entryPath, target: &t}
		}
		return out
	}
	return []resolution{{identifier: id, entryPath: entryPath, target: nil}}
}
