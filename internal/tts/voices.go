package tts

import "strings"

// Voice is a selectable assistant voice.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Gender      string `json:"gender"`
}

const (
	GenderFemale = "female"
	GenderMale   = "male"

	// DefaultVoiceID is used when no preference is stored.
	DefaultVoiceID = "Joanna"
)

// Curated list of voices offered to shoppers.
var curatedVoices = []Voice{
	{ID: "Joanna", Name: "Joanna", Description: "Warm, clear (US)", Gender: GenderFemale},
	{ID: "Matthew", Name: "Matthew", Description: "Calm, confident (US)", Gender: GenderMale},
	{ID: "Ivy", Name: "Ivy", Description: "Bright, youthful (US)", Gender: GenderFemale},
	{ID: "Justin", Name: "Justin", Description: "Energetic, youthful (US)", Gender: GenderMale},
	{ID: "Kendra", Name: "Kendra", Description: "Professional (US)", Gender: GenderFemale},
	{ID: "Joey", Name: "Joey", Description: "Casual, friendly (US)", Gender: GenderMale},
	{ID: "Salli", Name: "Salli", Description: "Soft, friendly (US)", Gender: GenderFemale},
	{ID: "Kimberly", Name: "Kimberly", Description: "Upbeat (US)", Gender: GenderFemale},
	{ID: "Amy", Name: "Amy", Description: "Polished (UK)", Gender: GenderFemale},
	{ID: "Brian", Name: "Brian", Description: "Deep, trustworthy (UK)", Gender: GenderMale},
	{ID: "Emma", Name: "Emma", Description: "Gentle (UK)", Gender: GenderFemale},
}

var voicesByID = func() map[string]Voice {
	m := make(map[string]Voice, len(curatedVoices))
	for _, v := range curatedVoices {
		m[strings.ToLower(v.ID)] = v
	}
	return m
}()

// Voices returns the curated voice list.
func Voices() []Voice {
	return append([]Voice(nil), curatedVoices...)
}

// LookupVoice finds a curated voice by id, ignoring case.
func LookupVoice(id string) (Voice, bool) {
	v, ok := voicesByID[strings.ToLower(strings.TrimSpace(id))]
	return v, ok
}

// GenderFor returns the gender hint sent along with a voice id. Unknown ids
// are treated as female, the storefront default.
func GenderFor(voiceID string) string {
	if v, ok := LookupVoice(voiceID); ok {
		return v.Gender
	}
	return GenderFemale
}
