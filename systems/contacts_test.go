package systems

import (
	"slices"
	"testing"

	"github.com/pthm-cable/meadow/components"
)

type rules struct {
	sources []string
	sinks   []string
}

func (r rules) FeedsOn(tag string) bool   { return slices.Contains(r.sources, tag) }
func (r rules) DrainedBy(tag string) bool { return slices.Contains(r.sinks, tag) }

func tagsOf(m map[string]string) TagLookup {
	return func(id string) (string, bool) {
		tag, ok := m[id]
		return tag, ok
	}
}

func TestDetectContacts_PicksNearestSource(t *testing.T) {
	g := NewSpatialGrid(20, 4)
	g.Insert("self", 0, 0)
	g.Insert("far", 0.9, 0)
	g.Insert("near", 0.3, 0)
	g.Insert("rock", 0.1, 0)
	tags := tagsOf(map[string]string{"self": "vole", "far": "flower", "near": "flower", "rock": "rock"})

	c := components.Contact{}
	DetectContacts(&c, "self", 0, 0, 1, rules{sources: []string{"flower"}}, g, tags, nil)

	if c.Source != "near" {
		t.Errorf("source = %q, want near", c.Source)
	}
	if c.Sink {
		t.Error("no sink in range")
	}
}

func TestDetectContacts_KeepsCurrentSource(t *testing.T) {
	g := NewSpatialGrid(20, 4)
	g.Insert("far", 0.9, 0)
	g.Insert("near", 0.3, 0)
	tags := tagsOf(map[string]string{"far": "flower", "near": "flower"})

	c := components.Contact{Source: "far"}
	DetectContacts(&c, "self", 0, 0, 1, rules{sources: []string{"flower"}}, g, tags, nil)

	if c.Source != "far" {
		t.Errorf("source = %q, want far kept", c.Source)
	}
}

func TestDetectContacts_DropsLostSource(t *testing.T) {
	g := NewSpatialGrid(20, 4)
	g.Insert("gone", 0.5, 0)
	tags := tagsOf(map[string]string{}) // no longer active

	c := components.Contact{Source: "gone"}
	DetectContacts(&c, "self", 0, 0, 1, rules{sources: []string{"flower"}}, g, tags, nil)

	if c.Source != "" {
		t.Errorf("source = %q, want cleared", c.Source)
	}
}

func TestDetectContacts_Sink(t *testing.T) {
	g := NewSpatialGrid(20, 4)
	g.Insert("stoat", 0.5, 0.5)
	tags := tagsOf(map[string]string{"stoat": "stoat"})

	c := components.Contact{}
	DetectContacts(&c, "self", 0, 0, 1, rules{sinks: []string{"stoat"}}, g, tags, nil)

	if !c.Sink || c.Source != "" {
		t.Errorf("contact = %+v, want sink only", c)
	}
}
