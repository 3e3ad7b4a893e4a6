package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverridesOnlyNamedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	raw := `
economy:
  max_claims_per_player: 100
  use_playtime_scaling: true
contest:
  hold_offline_allowed: true
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Economy.MaxClaimsPerPlayer != 100 || !tu.Economy.UsePlaytimeScaling {
		t.Fatalf("overrides not applied: %+v", tu.Economy)
	}
	if !tu.Contest.HoldOfflineAllowed {
		t.Fatalf("expected hold_offline_allowed")
	}
	d := Defaults()
	if tu.Economy.ChunksPerHour != d.Economy.ChunksPerHour || tu.Contest.DurationMs != d.Contest.DurationMs {
		t.Fatalf("defaults lost: %+v", tu)
	}
	if len(tu.Economy.ReputationTiers) != 4 {
		t.Fatalf("expected default reputation tiers, got %+v", tu.Economy.ReputationTiers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte("economy:\n  outpost_growth_base: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadSortsReputationTiers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	raw := `
economy:
  reputation_tiers:
    - {max_reputation: 0, multiplier: 1.1}
    - {max_reputation: -5, multiplier: 1.5}
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Economy.ReputationTiers[0].MaxReputation != -5 {
		t.Fatalf("tiers not sorted: %+v", tu.Economy.ReputationTiers)
	}
}

func TestDigestChangesWithTuning(t *testing.T) {
	a := Defaults()
	b := Defaults()
	if a.Digest() == "" || a.Digest() != b.Digest() {
		t.Fatalf("digest must be stable")
	}
	b.Economy.MaxClaimsPerPlayer++
	if a.Digest() == b.Digest() {
		t.Fatalf("digest must change with tuning")
	}
}
