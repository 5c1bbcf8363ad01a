package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/npcmind/internal/dialogue"
	"github.com/MrWong99/npcmind/internal/director"
	"github.com/MrWong99/npcmind/internal/feedback"
	"github.com/MrWong99/npcmind/internal/observe"
	"github.com/MrWong99/npcmind/internal/personality"
	"github.com/MrWong99/npcmind/pkg/knowledge"
	"github.com/MrWong99/npcmind/pkg/reasoning"
)

// ── wire types ───────────────────────────────────────────────────────────────

type npcView struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Occupation     string             `json:"occupation,omitempty"`
	Traits         personality.Traits `json:"traits,omitempty"`
	Mood           string             `json:"mood,omitempty"`
	Location       string             `json:"location,omitempty"`
	KnownFacts     []string           `json:"known_facts,omitempty"`
	ActivePlayer   string             `json:"active_player,omitempty"`
	InConversation bool               `json:"in_conversation"`
}

type conversationResponse struct {
	ConversationID string `json:"conversation_id,omitempty"`
	NPC            string `json:"npc"`
	Player         string `json:"player"`
	Text           string `json:"text"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	ConversationID  string   `json:"conversation_id,omitempty"`
	Text            string   `json:"text"`
	Source          string   `json:"source"`
	Confidence      float64  `json:"confidence"`
	PatternScore    float64  `json:"pattern_score"`
	GenerativeScore float64  `json:"generative_score"`
	Consistent      bool     `json:"consistent"`
	Problems        []string `json:"problems,omitempty"`
	Emotion         string   `json:"emotion,omitempty"`
	Topics          []string `json:"topics,omitempty"`
	Entities        []string `json:"entities,omitempty"`
	Intent          string   `json:"intent,omitempty"`
	Sentiment       string   `json:"sentiment,omitempty"`
	LatencyMS       int64    `json:"latency_ms"`
}

type historyResponse struct {
	ConversationID string              `json:"conversation_id"`
	Turns          int                 `json:"turns"`
	Quest          string              `json:"quest,omitempty"`
	Location       string              `json:"location,omitempty"`
	Topics         map[string]string   `json:"topics,omitempty"`
	Exchanges      []dialogue.Exchange `json:"exchanges"`
}

type feedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type moodRequest struct {
	Mood string `json:"mood"`
	// Emotion optionally sets an emotion predicate alongside the mood.
	Emotion   string  `json:"emotion,omitempty"`
	Intensity float64 `json:"intensity,omitempty"`
}

type factRequest struct {
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
	// Remember also adds the fact to the NPC's known facts, which reach
	// the generator's prompt.
	Remember bool `json:"remember,omitempty"`
}

type tripleView struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

type factView struct {
	Fact       string  `json:"fact"`
	Truth      float64 `json:"truth"`
	Confidence float64 `json:"confidence"`
	Derived    bool    `json:"derived,omitempty"`
	Source     string  `json:"source,omitempty"`
}

type knowledgeResponse struct {
	Subject string       `json:"subject"`
	Summary string       `json:"summary"`
	Triples []tripleView `json:"triples"`
	Facts   []factView   `json:"facts"`
}

type questRequest struct {
	Lines []director.QuestLine `json:"lines"`
}

type choicesRequest struct {
	Choices []string `json:"choices"`
}

type choicesResponse struct {
	Choices  []string `json:"choices"`
	Suppress bool     `json:"suppress,omitempty"`
}

type choiceSelectedRequest struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type queryRequest struct {
	Goal     string `json:"goal"`
	MaxDepth int    `json:"max_depth,omitempty"`
	Explain  bool   `json:"explain,omitempty"`
}

type queryResponse struct {
	Goal        string   `json:"goal"`
	Proved      bool     `json:"proved"`
	Truth       float64  `json:"truth"`
	Confidence  float64  `json:"confidence"`
	Relevance   float64  `json:"relevance"`
	Explanation []string `json:"explanation,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ── NPCs ─────────────────────────────────────────────────────────────────────

func (s *Server) view(id string, npc dialogue.NPCContext) npcView {
	player, active := s.director.ActivePlayer(id)
	return npcView{
		ID:             id,
		Name:           npc.Name,
		Occupation:     npc.Occupation,
		Traits:         npc.Traits,
		Mood:           npc.Mood,
		Location:       npc.Location,
		KnownFacts:     npc.KnownFacts,
		ActivePlayer:   player,
		InConversation: active,
	}
}

func (s *Server) handleListNPCs(w http.ResponseWriter, _ *http.Request) {
	ids := s.director.NPCs()
	out := make([]npcView, 0, len(ids))
	for _, id := range ids {
		if npc, ok := s.director.NPC(id); ok {
			out = append(out, s.view(id, npc))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetNPC(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("npc")
	npc, ok := s.lookupNPC(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.view(id, npc))
}

func (s *Server) handleSetMood(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("npc")
	var req moodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Mood == "" && req.Emotion == "" {
		writeError(w, http.StatusBadRequest, "mood or emotion is required")
		return
	}
	npc, ok := s.lookupNPC(w, id)
	if !ok {
		return
	}
	if req.Mood != "" {
		if err := s.director.SetMood(id, req.Mood); err != nil {
			writeDirectorError(w, err)
			return
		}
		npc.Mood = req.Mood
	}
	if req.Emotion != "" {
		s.manager.UpdateEmotion(id, req.Emotion, req.Intensity)
		if player, ok := s.director.ActivePlayer(id); ok {
			if c, ok := s.director.Context(id, player); ok {
				s.manager.ApplyEmotions(id, c.Session())
			}
		}
	}
	observe.Logger(r.Context()).Info("server: npc mood changed", "npc", id, "mood", req.Mood, "emotion", req.Emotion)
	writeJSON(w, http.StatusOK, s.view(id, npc))
}

func (s *Server) handleAddFact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("npc")
	var req factRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Predicate == "" || req.Object == "" {
		writeError(w, http.StatusBadRequest, "predicate and object are required")
		return
	}
	npc, ok := s.lookupNPC(w, id)
	if !ok {
		return
	}
	subject := dialogue.Subject(npc)
	s.manager.StoreNPCFact(subject, req.Predicate, req.Object)
	s.director.Engine().Reasoner().AddFact(req.Predicate, []string{subject, strings.ToLower(req.Object)}, 1)
	if req.Remember {
		if err := s.director.UpdateNPCKnowledge(id, req.Predicate+" "+req.Object); err != nil {
			writeDirectorError(w, err)
			return
		}
	}
	s.writeKnowledge(w, subject)
}

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	npc, ok := s.lookupNPC(w, r.PathValue("npc"))
	if !ok {
		return
	}
	s.writeKnowledge(w, dialogue.Subject(npc))
}

func (s *Server) writeKnowledge(w http.ResponseWriter, subject string) {
	resp := knowledgeResponse{
		Subject: subject,
		Summary: s.manager.NPCKnowledge(subject),
		Triples: []tripleView{},
		Facts:   []factView{},
	}
	kb := s.director.Engine().Brain().Knowledge()
	for _, t := range kb.Query(subject, knowledge.Wildcard, knowledge.Wildcard) {
		resp.Triples = append(resp.Triples, tripleView(t))
	}
	for _, f := range s.director.Engine().Reasoner().FactsAbout(subject) {
		resp.Facts = append(resp.Facts, factView{
			Fact:       f.String(),
			Truth:      f.Value.Truth,
			Confidence: f.Value.Confidence,
			Derived:    f.Derived,
			Source:     f.Source,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInjectQuest(w http.ResponseWriter, r *http.Request) {
	id, quest := r.PathValue("npc"), r.PathValue("quest")
	var req questRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "at least one quest line is required")
		return
	}
	if err := s.director.InjectQuestDialogue(id, quest, req.Lines); err != nil {
		writeDirectorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── conversations ────────────────────────────────────────────────────────────

// admit reports whether player may talk to the NPC, writing 404 or 409
// otherwise.
func (s *Server) admit(w http.ResponseWriter, npcID, player string) bool {
	if _, ok := s.lookupNPC(w, npcID); !ok {
		return false
	}
	if active, ok := s.director.ActivePlayer(npcID); ok && active != player {
		writeJSON(w, http.StatusConflict, conversationResponse{NPC: npcID, Player: player, Text: director.BusyReply})
		return false
	}
	return true
}

func (s *Server) conversationID(npcID, player string) string {
	if c, ok := s.director.Context(npcID, player); ok {
		return c.ID()
	}
	return ""
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	npcID, player := r.PathValue("npc"), r.PathValue("player")
	if !s.admit(w, npcID, player) {
		return
	}
	text := s.director.StartConversation(r.Context(), npcID, player)
	writeJSON(w, http.StatusOK, conversationResponse{
		ConversationID: s.conversationID(npcID, player),
		NPC:            npcID,
		Player:         player,
		Text:           text,
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	npcID, player := r.PathValue("npc"), r.PathValue("player")
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if !s.admit(w, npcID, player) {
		return
	}
	res := s.director.ContinueConversation(r.Context(), npcID, player, req.Text)
	writeJSON(w, http.StatusOK, messageResponse{
		ConversationID:  s.conversationID(npcID, player),
		Text:            res.Text,
		Source:          string(res.Source),
		Confidence:      res.Confidence,
		PatternScore:    res.PatternScore,
		GenerativeScore: res.GenerativeScore,
		Consistent:      res.Consistent,
		Problems:        res.Problems,
		Emotion:         res.Emotion,
		Topics:          res.Topics,
		Entities:        res.Entities,
		Intent:          res.Intent,
		Sentiment:       res.Sentiment,
		LatencyMS:       res.Latency.Milliseconds(),
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	npcID, player := r.PathValue("npc"), r.PathValue("player")
	if _, ok := s.lookupNPC(w, npcID); !ok {
		return
	}
	id := s.conversationID(npcID, player)
	text := s.director.EndConversation(r.Context(), npcID, player)
	writeJSON(w, http.StatusOK, conversationResponse{ConversationID: id, NPC: npcID, Player: player, Text: text})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	npcID, player := r.PathValue("npc"), r.PathValue("player")
	if _, ok := s.lookupNPC(w, npcID); !ok {
		return
	}
	c, ok := s.director.Context(npcID, player)
	if !ok {
		writeError(w, http.StatusNotFound, "no conversation between "+npcID+" and "+player)
		return
	}
	exchanges := c.Exchanges()
	if exchanges == nil {
		exchanges = []dialogue.Exchange{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		ConversationID: c.ID(),
		Turns:          c.TurnCount(),
		Quest:          c.Quest(),
		Location:       c.Location(),
		Topics:         c.Topics(),
		Exchanges:      exchanges,
	})
}

// handleFeedback rates the last response of a conversation. Rating works
// after the conversation ended too, as long as its context is still held.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	npcID, player := r.PathValue("npc"), r.PathValue("player")
	if _, ok := s.lookupNPC(w, npcID); !ok {
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec := feedback.Record{
		NPCID:    npcID,
		PlayerID: player,
		Rating:   req.Rating,
		Comment:  req.Comment,
	}
	if c, ok := s.director.Context(npcID, player); ok {
		rec.ConversationID = c.ID()
		if ex := c.Exchanges(); len(ex) > 0 {
			last := ex[len(ex)-1]
			rec.PlayerInput, rec.Response, rec.Source = last.Player, last.NPC, string(last.Source)
		}
	}
	if err := s.feedback.Save(rec); err != nil {
		if errors.Is(err, feedback.ErrInvalidRating) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChoicesShown(w http.ResponseWriter, r *http.Request) {
	npcID, player := r.PathValue("npc"), r.PathValue("player")
	var req choicesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, ok := s.lookupNPC(w, npcID); !ok {
		return
	}
	res := s.director.Hooks().OnPlayerChoicesShown(r.Context(), npcID, player, req.Choices)
	resp := choicesResponse{Choices: req.Choices}
	if res.Handled {
		resp.Suppress = res.Suppress
		if res.ModifiedChoices != nil {
			resp.Choices = res.ModifiedChoices
		}
	}
	if resp.Choices == nil {
		resp.Choices = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChoiceSelected reports the pick to the hooks and then says the
// chosen text to the NPC, unless a hook handled the selection.
func (s *Server) handleChoiceSelected(w http.ResponseWriter, r *http.Request) {
	npcID, player := r.PathValue("npc"), r.PathValue("player")
	var req choiceSelectedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Index < 0 || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "index must not be negative and text is required")
		return
	}
	if !s.admit(w, npcID, player) {
		return
	}
	hr := s.director.Hooks().OnPlayerChoiceSelected(r.Context(), npcID, player, req.Index, req.Text)
	if hr.Handled {
		text := hr.ModifiedText
		if hr.Suppress {
			text = ""
		}
		writeJSON(w, http.StatusOK, messageResponse{
			ConversationID: s.conversationID(npcID, player),
			Text:           text,
			Source:         string(dialogue.SourcePattern),
			Confidence:     1,
			Consistent:     true,
		})
		return
	}
	res := s.director.ContinueConversation(r.Context(), npcID, player, req.Text)
	writeJSON(w, http.StatusOK, messageResponse{
		ConversationID:  s.conversationID(npcID, player),
		Text:            res.Text,
		Source:          string(res.Source),
		Confidence:      res.Confidence,
		PatternScore:    res.PatternScore,
		GenerativeScore: res.GenerativeScore,
		Consistent:      res.Consistent,
		Problems:        res.Problems,
		Emotion:         res.Emotion,
		Topics:          res.Topics,
		Entities:        res.Entities,
		Intent:          res.Intent,
		Sentiment:       res.Sentiment,
		LatencyMS:       res.Latency.Milliseconds(),
	})
}

// ── reasoning ────────────────────────────────────────────────────────────────

func (s *Server) handleReasoningQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	goal, err := reasoning.ParseFormula(req.Goal)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rs := s.director.Engine().Reasoner()
	depth := req.MaxDepth
	if depth <= 0 {
		depth = s.maxDepth
	}
	v, proved := rs.BackwardChain(goal, depth)
	resp := queryResponse{
		Goal:       goal.String(),
		Proved:     proved,
		Truth:      v.Truth,
		Confidence: v.Confidence,
		Relevance:  v.Relevance,
	}
	if req.Explain && proved {
		resp.Explanation = rs.Explain(goal, depth)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (s *Server) lookupNPC(w http.ResponseWriter, id string) (dialogue.NPCContext, bool) {
	npc, ok := s.director.NPC(id)
	if !ok {
		writeError(w, http.StatusNotFound, director.UnknownReply)
	}
	return npc, ok
}

func writeDirectorError(w http.ResponseWriter, err error) {
	if errors.Is(err, director.ErrUnknownNPC) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
// On failure it writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
