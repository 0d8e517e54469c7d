package telemetry

import "testing"

// ---------- windows ----------

func TestCollectorWindowTicks(t *testing.T) {
	c := NewCollector(5, 0.02)
	if c.WindowDurationTicks() != 250 {
		t.Errorf("window ticks = %d, want 250", c.WindowDurationTicks())
	}
	if c.ShouldFlush(249) {
		t.Error("should not flush before window end")
	}
	if !c.ShouldFlush(250) {
		t.Error("should flush at window end")
	}

	if got := NewCollector(0.001, 0.02).WindowDurationTicks(); got != 1 {
		t.Errorf("tiny window ticks = %d, want 1", got)
	}
}

func TestCollectorFlush(t *testing.T) {
	c := NewCollector(1, 0.1)

	c.RecordSpawn("vole")
	c.RecordSpawn("vole")
	c.RecordExpiration("vole", false)
	c.RecordReplication("vole")
	c.RecordExchange("vole", true, 2.5)
	c.RecordExchange("vole", false, 0)
	c.RecordPlacementFailure("flower")

	rows := c.Flush(10, 1, []ClassSample{{Class: "vole", Active: 1, Free: 3}})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	// Sorted by class
	if rows[0].Class != "flower" || rows[1].Class != "vole" {
		t.Fatalf("row order = %s, %s", rows[0].Class, rows[1].Class)
	}
	if rows[0].PlacementFailures != 1 {
		t.Errorf("flower placement failures = %d, want 1", rows[0].PlacementFailures)
	}

	v := rows[1]
	if v.Spawns != 2 || v.Expirations != 1 || v.ExpiredUnreplicated != 1 || v.Replications != 1 {
		t.Errorf("vole counts = %+v", v)
	}
	if v.Exchanges != 1 || v.ExchangesCancelled != 1 || v.EnergyTransferred != 2.5 {
		t.Errorf("vole exchange counts = %+v", v)
	}
	if v.Active != 1 || v.Free != 3 {
		t.Errorf("vole sample = %d/%d", v.Active, v.Free)
	}

	// Window resets; classes without samples or events drop out
	rows = c.Flush(20, 1, nil)
	if len(rows) != 0 {
		t.Errorf("rows after reset = %d, want 0", len(rows))
	}
	if c.ShouldFlush(29) || !c.ShouldFlush(30) {
		t.Error("window should restart at last flush tick")
	}
}

// ---------- episode totals ----------

func TestCollectorEpisodeTotals(t *testing.T) {
	c := NewCollector(1, 0.1)

	c.RecordSpawn("vole")
	c.RecordSpawn("flower")
	c.RecordExpiration("flower", true)
	c.RecordPoolExhausted("flower")
	c.Flush(10, 1, nil)
	c.RecordSpawn("vole")

	total := c.EpisodeTotals()
	if total.Spawns != 3 || total.Expirations != 1 || total.ExpiredUnreplicated != 0 || total.PoolExhausted != 1 {
		t.Errorf("totals = %+v", total)
	}
	if got := c.EpisodeCounts("vole").Spawns; got != 2 {
		t.Errorf("vole spawns = %d, want 2", got)
	}
	if got := c.EpisodeCounts("heron"); got != (Counts{}) {
		t.Errorf("unknown class counts = %+v", got)
	}

	c.ResetEpisode(50)
	if got := c.EpisodeTotals(); got != (Counts{}) {
		t.Errorf("totals after reset = %+v", got)
	}
	if c.ShouldFlush(59) {
		t.Error("window should restart at reset tick")
	}
}
