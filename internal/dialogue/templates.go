package dialogue

import (
	"fmt"
	"strings"
)

// Canonical mood names. Hosts may also use the emotion nouns ("joy",
// "sadness", "anger", "fear"), which are treated the same.
const (
	MoodHappy     = "happy"
	MoodSad       = "sad"
	MoodAngry     = "angry"
	MoodAfraid    = "afraid"
	MoodSurprised = "surprised"
	MoodNeutral   = "neutral"
)

// CanonicalMood maps a mood or emotion name to one of the Mood constants.
// Unknown moods map to [MoodNeutral].
func CanonicalMood(mood string) string {
	switch strings.ToLower(mood) {
	case "happy", "joy":
		return MoodHappy
	case "sad", "sadness":
		return MoodSad
	case "angry", "anger":
		return MoodAngry
	case "afraid", "fear":
		return MoodAfraid
	case "surprised", "surprise":
		return MoodSurprised
	}
	return MoodNeutral
}

// Greeting is what name says when a conversation opens in the given mood.
func Greeting(name, mood string) string {
	switch CanonicalMood(mood) {
	case MoodHappy:
		return "*smiling warmly* Greetings, traveler! I am " + name + ". What a fine day!"
	case MoodSad:
		return "*sighing* Ah, hello there. I'm " + name + ". Forgive my mood..."
	case MoodAngry:
		return "*scowling* What do you want? I'm " + name + ", and I'm busy."
	case MoodAfraid:
		return "*nervously* Oh! You startled me. I'm " + name + "..."
	}
	return "Greetings, traveler. I am " + name + ". How may I help you?"
}

// Farewell is what an NPC says when a conversation closes in the given mood.
func Farewell(mood string) string {
	switch CanonicalMood(mood) {
	case MoodHappy:
		return "*waving cheerfully* Farewell, friend! May fortune smile upon you!"
	case MoodSad:
		return "*nodding slowly* Goodbye then. Take care of yourself..."
	}
	return "Farewell, traveler. Safe journeys."
}

func QuestOffer(quest, description string) string {
	return "I have a task that needs doing. " + description + " Will you help with '" + quest + "'?"
}

func QuestAccepted(quest string) string {
	return "Excellent! I knew I could count on you. Good luck with '" + quest + "'."
}

func QuestDeclined() string {
	return "I understand. Perhaps another time, then."
}

func QuestComplete(quest, reward string) string {
	return "You've done it! '" + quest + "' is complete. Here is your reward: " + reward + "."
}

func ShopGreeting(shopType string) string {
	return "Welcome to my " + shopType + "! Take a look at my wares."
}

func BuyConfirm(item string, price int) string {
	return fmt.Sprintf("The %s will cost you %d gold. Deal?", item, price)
}

func SellConfirm(item string, price int) string {
	return fmt.Sprintf("I'll give you %d gold for that %s. Agreed?", price, item)
}

func NotEnoughGold(required, have int) string {
	return fmt.Sprintf("I'm afraid you don't have enough gold. You need %d but only have %d.", required, have)
}

func LocationInfo(location, description string) string {
	return location + "? " + description
}

func PersonInfo(person, description string) string {
	return "Ah, " + person + ". " + description
}

func Rumor(rumor string) string {
	return "*leaning in* I've heard that " + rumor
}

var emotionCues = map[string]string{
	MoodAngry:     "*angrily* ",
	MoodHappy:     "*beaming* ",
	MoodSad:       "*sadly* ",
	MoodAfraid:    "*fearfully* ",
	MoodSurprised: "*eyes widening* ",
}

// Emotional prefixes text with the stage direction for emotion. Neutral and
// unknown emotions leave text unchanged.
func Emotional(emotion, text string) string {
	return emotionCues[CanonicalMood(emotion)] + text
}
