// Package domain contains core domain types for the DailyStack application.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Flashcard represents a single study flashcard.
type Flashcard struct {
	Question            string `json:"question"`
	Answer              string `json:"answer"`
	Category            string `json:"category"`
	DetailedExplanation string `json:"detailed_explanation,omitempty"`
	CodeExample         string `json:"code_example,omitempty"`
	VisualExample       string `json:"visual_example,omitempty"`
}

// ContextAnswer returns the answer text used to seed a conversation:
// the detailed explanation when present, the short answer otherwise.
func (f *Flashcard) ContextAnswer() string {
	if f.DetailedExplanation != "" {
		return f.DetailedExplanation
	}
	return f.Answer
}

// Scenario represents the daily scenario the flashcards belong to.
type Scenario struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DailyChallenge is the complete daily challenge: one scenario plus an
// ordered deck of flashcards. Deck order is presentation order.
type DailyChallenge struct {
	Date       string      `json:"date"`
	Scenario   Scenario    `json:"scenario"`
	Flashcards []Flashcard `json:"flashcards"`
}

// challengePayload mirrors the wire shape produced by the agent's
// structured output. Field names differ from the domain types
// (short_answer, problem_description), so it is decoded separately
// and mapped.
type challengePayload struct {
	Date     string `json:"date"`
	Scenario struct {
		Title              string `json:"title"`
		ProblemDescription string `json:"problem_description"`
	} `json:"scenario"`
	Flashcards []struct {
		Question            string `json:"question"`
		ShortAnswer         string `json:"short_answer"`
		Category            string `json:"category"`
		DetailedExplanation string `json:"detailed_explanation"`
		CodeExample         string `json:"code_example"`
		VisualExample       string `json:"visual_example"`
	} `json:"flashcards"`
}

// ChallengeFromPayload decodes the agent's structured-output JSON into a
// DailyChallenge. Absent fields default rather than fail: the date falls
// back to today, scenario fields to empty strings and the flashcard
// category to "General".
func ChallengeFromPayload(data []byte) (*DailyChallenge, error) {
	var payload challengePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid challenge payload: %w", err)
	}

	challenge := &DailyChallenge{
		Date: payload.Date,
		Scenario: Scenario{
			Title:       payload.Scenario.Title,
			Description: payload.Scenario.ProblemDescription,
		},
	}
	if challenge.Date == "" {
		challenge.Date = time.Now().Format("2006-01-02")
	}

	for _, fc := range payload.Flashcards {
		category := fc.Category
		if category == "" {
			category = "General"
		}
		challenge.Flashcards = append(challenge.Flashcards, Flashcard{
			Question:            fc.Question,
			Answer:              fc.ShortAnswer,
			Category:            category,
			DetailedExplanation: fc.DetailedExplanation,
			CodeExample:         fc.CodeExample,
			VisualExample:       fc.VisualExample,
		})
	}

	return challenge, nil
}
