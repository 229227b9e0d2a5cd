package emotion

import (
	"regexp"
	"strings"
)

// Label is a mood the model may attach to a reply. It selects mood music on the
// front end.
type Label string

const (
	Sadness    Label = "sadness"
	Joy        Label = "joy"
	Love       Label = "love"
	Excitement Label = "excitement"
	Anger      Label = "anger"
	Motivation Label = "motivation"
	Jealousy   Label = "jealousy"
	Relaxation Label = "relaxation"
	Hope       Label = "hope"
	Anxiety    Label = "anxiety"
)

// Initial is the mood a fresh session starts with.
const Initial = Joy

// Open and Close delimit the emotion tag in model output.
const (
	Open  = "<emotion>"
	Close = "</emotion>"
)

var tagPattern = regexp.MustCompile(`(?i)<emotion>([a-z]+)</emotion>`)

var allowed = map[Label]struct{}{
	Sadness: {}, Joy: {}, Love: {}, Excitement: {}, Anger: {},
	Motivation: {}, Jealousy: {}, Relaxation: {}, Hope: {}, Anxiety: {},
}

// Labels returns the allow-list in a stable order.
func Labels() []Label {
	return []Label{Sadness, Joy, Love, Excitement, Anger, Motivation, Jealousy, Relaxation, Hope, Anxiety}
}

// Parse normalises raw and reports whether it is an allowed label.
func Parse(raw string) (Label, bool) {
	label := Label(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := allowed[label]; !ok {
		return "", false
	}
	return label, true
}

// Extract returns the label of the first well-formed emotion tag in text. A missing
// tag or a word outside the allow-list yields false.
func Extract(text string) (Label, bool) {
	match := tagPattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return Parse(match[1])
}

// Strip removes every well-formed emotion tag from text.
func Strip(text string) string {
	return tagPattern.ReplaceAllString(text, "")
}

// Clean strips emotion tags and trims the result for display.
func Clean(text string) string {
	return strings.TrimSpace(Strip(text))
}
