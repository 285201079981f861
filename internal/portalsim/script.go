package portalsim

import (
	"math/rand"
	"strings"
	"time"

	"github.com/ent0n29/wellchat/internal/portalsim/store"
)

var defaultQuestions = []string{
	"Hi! How has your week been so far?",
	"What has been the most satisfying part of your work recently?",
	"Is anything getting in the way of doing your best work?",
	"How would you describe your energy levels lately?",
	"How supported do you feel by your team and manager?",
	"Is there anything you would like HR to know about?",
}

var thankYouMessages = []string{
	"Thank you for sharing your thoughts! Your feedback is incredibly valuable and helps us improve.",
	"We truly appreciate your candid feedback! Your insights will help shape a better workplace.",
	"Thank you for your thoughtful response! Your perspective matters greatly to us.",
	"Your input is invaluable! Thank you for helping us understand what matters to you.",
}

// Script is the fixed question sequence the simulated assistant asks.
type Script struct {
	questions []string
}

func NewScript(n int) Script {
	if n <= 0 || n > len(defaultQuestions) {
		n = len(defaultQuestions)
	}
	return Script{questions: defaultQuestions[:n]}
}

func (s Script) Len() int { return len(s.questions) }

// Question returns the i-th question, zero based.
func (s Script) Question(i int) string { return s.questions[i%len(s.questions)] }

func thankYou() string { return thankYouMessages[rand.Intn(len(thankYouMessages))] }

var (
	positiveWords = []string{"good", "great", "happy", "fine", "well", "productive", "excited", "supported", "satisfied"}
	sadWords      = []string{"tired", "sad", "lonely", "exhausted", "down"}
	angryWords    = []string{"frustrated", "angry", "annoyed", "unfair", "stressed", "overwhelmed"}
)

// analyze scores the employee's responses into a mood zone and schedules
// the next check-in.
func analyze(msgs []store.Message, now time.Time) map[string]any {
	var pos, sad, angry int
	for _, m := range msgs {
		text := strings.ToLower(m.Response)
		pos += countWords(text, positiveWords)
		sad += countWords(text, sadWords)
		angry += countWords(text, angryWords)
	}

	zone := "Neutral Zone"
	switch {
	case angry > 0 && angry >= sad && angry >= pos:
		zone = "Frustrated Zone"
	case sad > 0 && sad >= pos:
		zone = "Sad Zone"
	case pos > 0:
		zone = "Happy Zone"
	}

	days := 7
	if zone == "Sad Zone" || zone == "Frustrated Zone" {
		days = 3
	}
	return map[string]any{
		"overall_assessment": zone,
		"next_interaction":   now.UTC().AddDate(0, 0, days).Format("2006-01-02"),
	}
}

func countWords(text string, words []string) int {
	n := 0
	for _, w := range words {
		n += strings.Count(text, w)
	}
	return n
}
