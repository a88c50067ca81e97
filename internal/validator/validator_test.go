package validator

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/hilci/internal/inventory"
	"github.com/bobmcallan/hilci/internal/models"
)

func fiveTargetInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv := inventory.New()
	groups := map[int]string{1: "GROUP_A", 2: "GROUP_A", 3: "GROUP_A", 4: "GROUP_B", 5: "GROUP_B"}
	for i := 1; i <= 5; i++ {
		target := models.Target{
			ProbeSerial: probeSerial(i),
			ProbeAlias:  probeAlias(i),
			TargetName:  targetName(i),
			Groups:      []string{groups[i]},
		}
		if err := inv.Push(target); err != nil {
			t.Fatalf("seed inventory: %v", err)
		}
	}
	return inv
}

func probeSerial(i int) string { return "PROBE_SERIAL_" + itoa(i) }
func probeAlias(i int) string  { return "PROBE_ALIAS_" + itoa(i) }
func targetName(i int) string  { return "TARGET_" + itoa(i) }

func itoa(i int) string {
	return string(rune('0' + i))
}

func validBinary() string {
	return base64.StdEncoding.EncodeToString([]byte{0xDE, 0xAD, 0xBE, 0xEF})
}

// S1: target resolution across all four selector variants resolves to
// exactly one Target per inventory member, no duplicates.
func TestValidateResolvesAcrossAllVariants(t *testing.T) {
	inv := fiveTargetInventory(t)
	desc := models.JobDescription{
		TimeoutSeconds: 30,
		Tasks: []models.TaskDescription{{
			RunOn: []models.Selector{
				{ProbeSerials: []string{"PROBE_SERIAL_1"}},
				{ProbeAliases: []string{"PROBE_ALIAS_2"}},
				{Targets: []string{"TARGET_3"}},
				{Groups: []string{"GROUP_B"}},
			},
			BinaryB64: validBinary(),
		}},
	}

	job, errs := Validate(desc, inv)
	require.Empty(t, errs, "expected no errors, got %+v", errs)
	require.Len(t, job.Tasks, 1)
	assert.Len(t, job.Tasks[0].Targets, 5)
	assert.NotEmpty(t, job.ID, "expected a fresh job id to be assigned")
	assert.NotEmpty(t, job.Tasks[0].ID, "expected a fresh task id to be assigned")
}

// S2: a group expansion overlapping an explicit selector produces one
// TargetIsNotUnique per colliding target, each listing both entry-paths.
func TestValidateDetectsDuplicateViaGroup(t *testing.T) {
	inv := fiveTargetInventory(t)
	desc := models.JobDescription{
		Tasks: []models.TaskDescription{{
			RunOn: []models.Selector{
				{ProbeSerials: []string{"PROBE_SERIAL_1"}},
				{ProbeAliases: []string{"PROBE_ALIAS_2"}},
				{Targets: []string{"TARGET_3"}},
				{Groups: []string{"GROUP_A"}},
			},
			BinaryB64: validBinary(),
		}},
	}

	_, errs := Validate(desc, inv)
	var duplicates []models.ValidationError
	for _, e := range errs {
		if e.Kind == models.KindTargetIsNotUnique {
			duplicates = append(duplicates, e)
		}
	}
	require.Lenf(t, duplicates, 3, "expected 3 TargetIsNotUnique errors, got %+v", errs)
	for _, d := range duplicates {
		assert.Lenf(t, d.Entries, 2, "expected 2 entry-paths per duplicate, got %+v", d)
	}
}

// S3: bad base64 in the second of two tasks yields exactly one
// Base64DecodingFailed at the right entry-path.
func TestValidateReportsBadBase64(t *testing.T) {
	inv := fiveTargetInventory(t)
	desc := models.JobDescription{
		Tasks: []models.TaskDescription{
			{
				RunOn:     []models.Selector{{ProbeSerials: []string{"PROBE_SERIAL_1"}}},
				BinaryB64: validBinary(),
			},
			{
				RunOn:     []models.Selector{{ProbeSerials: []string{"PROBE_SERIAL_2"}}},
				BinaryB64: "ooops",
			},
		},
	}

	_, errs := Validate(desc, inv)
	var b64Errs []models.ValidationError
	for _, e := range errs {
		if e.Kind == models.KindBase64DecodingFailed {
			b64Errs = append(b64Errs, e)
		}
	}
	require.Lenf(t, b64Errs, 1, "expected exactly 1 Base64DecodingFailed, got %+v", errs)
	assert.Equal(t, "tasks.1.binary_b64", b64Errs[0].Entry)
}

// S4: a nonexistent group produces one TargetNotAvailable carrying the
// group name and its precise structural entry-path.
func TestValidateReportsNonexistentGroup(t *testing.T) {
	inv := fiveTargetInventory(t)
	desc := models.JobDescription{
		Tasks: []models.TaskDescription{{
			RunOn: []models.Selector{
				{ProbeSerials: []string{"PROBE_SERIAL_1"}},
				{ProbeAliases: []string{"PROBE_ALIAS_2"}},
				{Targets: []string{"TARGET_3"}},
				{Groups: []string{"GROUP_C"}},
			},
			BinaryB64: validBinary(),
		}},
	}

	_, errs := Validate(desc, inv)
	require.Lenf(t, errs, 1, "expected exactly 1 error, got %+v", errs)
	want := models.TargetNotAvailable("GROUP_C", "tasks.0.run_on.3.groups.0")
	assert.Equal(t, want, errs[0])
}

func TestValidateRequiresAtLeastOneTarget(t *testing.T) {
	inv := fiveTargetInventory(t)
	desc := models.JobDescription{
		Tasks: []models.TaskDescription{{
			RunOn:     nil,
			BinaryB64: validBinary(),
		}},
	}

	_, errs := Validate(desc, inv)
	require.Lenf(t, errs, 1, "expected a single error, got %+v", errs)
	assert.Equal(t, models.KindNoTargetChosen, errs[0].Kind)
}
