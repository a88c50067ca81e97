package inventory

import (
	"errors"
	"testing"

	"github.com/bobmcallan/hilci/internal/models"
)

func mustPush(t *testing.T, inv *Inventory, target models.Target) {
	t.Helper()
	if err := inv.Push(target); err != nil {
		t.Fatalf("Push(%+v) failed: %v", target, err)
	}
}

func TestPushRejectsDuplicateSerial(t *testing.T) {
	inv := New()
	mustPush(t, inv, models.Target{ProbeSerial: "s1"})

	err := inv.Push(models.Target{ProbeSerial: "s1"})
	if !errors.Is(err, ErrDuplicateSerial) {
		t.Fatalf("expected ErrDuplicateSerial, got %v", err)
	}
	if inv.Len() != 1 {
		t.Errorf("failed push should not have grown the inventory, Len() = %d", inv.Len())
	}
}

func TestFindByEveryIndex(t *testing.T) {
	inv := New()
	mustPush(t, inv, models.Target{
		ProbeSerial: "s1",
		ProbeAlias:  "board-a",
		TargetName:  "stm32f407",
		Groups:      []string{"nightly", "smoke"},
	})
	mustPush(t, inv, models.Target{
		ProbeSerial: "s2",
		ProbeAlias:  "board-b",
		TargetName:  "stm32f407",
		Groups:      []string{"nightly"},
	})

	if _, ok := inv.FindByProbeSerial("s1"); !ok {
		t.Error("FindByProbeSerial(s1) not found")
	}
	if _, ok := inv.FindByProbeAlias("board-b"); !ok {
		t.Error("FindByProbeAlias(board-b) not found")
	}
	if _, ok := inv.FindByTargetName("missing"); ok {
		t.Error("FindByTargetName(missing) unexpectedly found")
	}

	nightly := inv.FindByGroup("nightly")
	if len(nightly) != 2 {
		t.Errorf("FindByGroup(nightly) = %d targets, want 2", len(nightly))
	}
	smoke := inv.FindByGroup("smoke")
	if len(smoke) != 1 || smoke[0].ProbeSerial != "s1" {
		t.Errorf("FindByGroup(smoke) = %+v, want [s1]", smoke)
	}
}

func TestAllReturnsPushOrderCopy(t *testing.T) {
	inv := New()
	mustPush(t, inv, models.Target{ProbeSerial: "s1"})
	mustPush(t, inv, models.Target{ProbeSerial: "s2"})

	all := inv.All()
	all[0].ProbeSerial = "mutated"

	again := inv.All()
	if again[0].ProbeSerial != "s1" {
		t.Error("All() should return a defensive copy, mutation leaked into inventory")
	}
}
