package config

import (
	"cmp"
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	NPCsChanged     bool      // true if any NPC was added, removed or modified
	NPCChanges      []NPCDiff // per-NPC diffs, sorted by ID
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DialogueChanged means the engine config should be replaced.
	DialogueChanged bool

	// RestartRequired lists changed sections that only apply after a
	// restart (providers, store, cache, brain files, listen address).
	RestartRequired []string
}

// NPCDiff describes what changed for a single NPC between two configs.
type NPCDiff struct {
	ID               string
	ProfileChanged   bool // name, occupation, traits or secrets
	MoodChanged      bool
	LocationChanged  bool
	KnowledgeChanged bool
	QuestsChanged    bool
	Added            bool
	Removed          bool
}

// Changed reports whether anything differs for the NPC.
func (d NPCDiff) Changed() bool {
	return d.ProfileChanged || d.MoodChanged || d.LocationChanged || d.KnowledgeChanged ||
		d.QuestsChanged || d.Added || d.Removed
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.DialogueChanged = !reflect.DeepEqual(old.Dialogue, new.Dialogue)

	for _, section := range []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.log_format", old.Server.LogFormat, new.Server.LogFormat},
		{"server.feedback_path", old.Server.FeedbackPath, new.Server.FeedbackPath},
		{"server.trace_sample_ratio", old.Server.TraceSampleRatio, new.Server.TraceSampleRatio},
		{"providers", old.Providers, new.Providers},
		{"brain", old.Brain, new.Brain},
		{"reasoning", old.Reasoning, new.Reasoning},
		{"store", old.Store, new.Store},
		{"cache", old.Cache, new.Cache},
	} {
		if !reflect.DeepEqual(section.old, section.new) {
			d.RestartRequired = append(d.RestartRequired, section.name)
		}
	}

	oldNPCs := make(map[string]*NPCConfig, len(old.NPCs))
	for i := range old.NPCs {
		oldNPCs[old.NPCs[i].ID] = &old.NPCs[i]
	}
	newNPCs := make(map[string]*NPCConfig, len(new.NPCs))
	for i := range new.NPCs {
		newNPCs[new.NPCs[i].ID] = &new.NPCs[i]
	}

	for _, id := range slices.Sorted(maps.Keys(oldNPCs)) {
		newNPC, exists := newNPCs[id]
		if !exists {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{ID: id, Removed: true})
			continue
		}
		if nd := diffNPC(id, oldNPCs[id], newNPC); nd.Changed() {
			d.NPCChanges = append(d.NPCChanges, nd)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(newNPCs)) {
		if _, exists := oldNPCs[id]; !exists {
			d.NPCChanges = append(d.NPCChanges, NPCDiff{ID: id, Added: true})
		}
	}
	slices.SortFunc(d.NPCChanges, func(a, b NPCDiff) int { return cmp.Compare(a.ID, b.ID) })
	d.NPCsChanged = len(d.NPCChanges) > 0

	return d
}

// diffNPC compares two NPC configs with the same ID.
func diffNPC(id string, old, new *NPCConfig) NPCDiff {
	return NPCDiff{
		ID: id,
		ProfileChanged: old.Name != new.Name || old.Occupation != new.Occupation ||
			!maps.Equal(old.Traits, new.Traits) || !slices.Equal(old.Secrets, new.Secrets),
		MoodChanged:      old.Mood != new.Mood,
		LocationChanged:  old.Location != new.Location,
		KnowledgeChanged: !slices.Equal(old.KnownFacts, new.KnownFacts),
		QuestsChanged:    !reflect.DeepEqual(old.Quests, new.Quests),
	}
}
