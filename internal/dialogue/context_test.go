package dialogue_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/npcmind/internal/dialogue"
)

func TestContext_History(t *testing.T) {
	t.Parallel()
	c := dialogue.NewContext("gerald", "p1")
	c.SetHistorySize(3)

	for i := range 5 {
		c.AddExchange(dialogue.Exchange{Player: fmt.Sprint(i), NPC: "ok"})
	}
	ex := c.Exchanges()
	if len(ex) != 3 || ex[0].Player != "2" || ex[2].Player != "4" {
		t.Errorf("Exchanges = %+v, want the last three", ex)
	}
	if ex[0].At.IsZero() {
		t.Error("AddExchange did not stamp the time")
	}
	if n := c.TurnCount(); n != 5 {
		t.Errorf("TurnCount = %d, want 5", n)
	}

	c.SetHistorySize(1)
	if ex := c.Exchanges(); len(ex) != 1 || ex[0].Player != "4" {
		t.Errorf("after shrinking Exchanges = %+v", ex)
	}
	c.SetHistorySize(0)
	if ex := c.Exchanges(); len(ex) != 1 {
		t.Errorf("SetHistorySize(0) changed the history to %d entries", len(ex))
	}
}

func TestContext_State(t *testing.T) {
	t.Parallel()
	c := dialogue.NewContext("gerald", "p1")
	if c.ID() == "" || c.ID() == dialogue.NewContext("gerald", "p1").ID() {
		t.Errorf("ID = %q, want a unique id", c.ID())
	}
	if c.NPCID() != "gerald" || c.PlayerID() != "p1" {
		t.Errorf("NPCID, PlayerID = %q, %q", c.NPCID(), c.PlayerID())
	}
	if c.Session().ID() != c.ID() {
		t.Errorf("session id = %q, want %q", c.Session().ID(), c.ID())
	}

	c.SetRelationship("trust", 3)
	c.SetRelationship("fear", -0.25)
	if got := c.Relationship("trust"); got != 1 {
		t.Errorf("Relationship(trust) = %v, want clamped 1", got)
	}
	if got := c.Relationship("fear"); got != -0.25 {
		t.Errorf("Relationship(fear) = %v, want -0.25", got)
	}

	c.SetQuest("Rats")
	c.SetLocation("the cellar")
	c.RememberTopic("quest", "Kill the rats.")
	if c.Quest() != "Rats" || c.Location() != "the cellar" {
		t.Errorf("Quest, Location = %q, %q", c.Quest(), c.Location())
	}
	topics := c.Topics()
	topics["quest"] = "mutated"
	if got := c.TopicMemory("quest"); got != "Kill the rats." {
		t.Errorf("TopicMemory(quest) = %q, want the stored value", got)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.AddExchange(dialogue.Exchange{Player: "hi", NPC: "hello", At: at})
	if !c.LastActive().Equal(at) {
		t.Errorf("LastActive = %v, want %v", c.LastActive(), at)
	}
}
