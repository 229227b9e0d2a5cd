// Package playlist holds the mood music catalog that follows the chat emotion.
package playlist

import (
	"math/rand/v2"

	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
)

// Track is one song.
type Track struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URL    string `json:"url"`
}

// Category groups the tracks played for one emotion.
type Category struct {
	Key     string        `json:"key"`
	Name    string        `json:"name"`
	Emotion emotion.Label `json:"emotion"`
	Tracks  []Track       `json:"tracks"`
}

// Catalog looks up categories by emotion.
type Catalog struct {
	categories []Category
	byEmotion  map[emotion.Label]int
	pick       func(n int) int
}

// NewCatalog indexes categories. Later categories never shadow earlier ones for the
// same emotion.
func NewCatalog(categories []Category) *Catalog {
	c := &Catalog{
		categories: append([]Category(nil), categories...),
		byEmotion:  make(map[emotion.Label]int, len(categories)),
		pick:       rand.IntN,
	}
	for i, cat := range c.categories {
		if _, ok := c.byEmotion[cat.Emotion]; !ok {
			c.byEmotion[cat.Emotion] = i
		}
	}
	return c
}

// Default returns the built-in catalog with one category per emotion label.
func Default() *Catalog {
	return NewCatalog(builtin())
}

// List returns every category.
func (c *Catalog) List() []Category {
	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		cat.Tracks = append([]Track(nil), cat.Tracks...)
		out[i] = cat
	}
	return out
}

// ForEmotion returns the category matching label.
func (c *Catalog) ForEmotion(label emotion.Label) (Category, bool) {
	i, ok := c.byEmotion[label]
	if !ok {
		return Category{}, false
	}
	cat := c.categories[i]
	cat.Tracks = append([]Track(nil), cat.Tracks...)
	return cat, true
}

// Pick chooses a random track for label.
func (c *Catalog) Pick(label emotion.Label) (Track, bool) {
	cat, ok := c.ForEmotion(label)
	if !ok || len(cat.Tracks) == 0 {
		return Track{}, false
	}
	return cat.Tracks[c.pick(len(cat.Tracks))], true
}

func builtin() []Category {
	return []Category{
		{
			Key:     "sad",
			Name:    "Melancholic Moods",
			Emotion: emotion.Sadness,
			Tracks:  []Track{
				{ID: 1, Title: "Half Lit Ember", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738769560/Half_Lit_Ember_CS_lj6t0j.mp3"},
				{ID: 2, Title: "I'm Wrong", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738820102/I_m_Wrong_CS_dufiet.mp3"},
				{ID: 3, Title: "Time & Love & Life", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738769560/Time_Love_Life_CS_dv3fig.mp3"},
			},
		},
		{
			Key:     "happy",
			Name:    "Uplifting Vibes",
			Emotion: emotion.Joy,
			Tracks:  []Track{
				{ID: 4, Title: "Golden Vibes", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738769562/Golden_Vibes_CS_prijbj.mp3"},
				{ID: 5, Title: "Earth's Song", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738769563/Earth_s_Song_CS_lh2y0z.mp3"},
				{ID: 6, Title: "Moo Deng", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1739169802/Moo_Deng_CS_or5eup.mp3"},
			},
		},
		{
			Key:     "romantic",
			Name:    "Love Frequencies",
			Emotion: emotion.Love,
			Tracks:  []Track{
				{ID: 7, Title: "Looks Like You", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737610377/Looks%20like%20You.mp3"},
				{ID: 8, Title: "Freckle Kissed", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738820102/Freckle_Kissed_CS_nlquut.mp3"},
				{ID: 9, Title: "Crush Crush", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738820101/Crush_Crush_CS_gbn3ji.mp3"},
			},
		},
		{
			Key:     "energetic",
			Name:    "High Energy",
			Emotion: emotion.Excitement,
			Tracks:  []Track{
				{ID: 10, Title: "No Go Judge Me", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738820102/No_Go_Judge_Me_CS_ljdy81.mp3"},
				{ID: 11, Title: "Vilvid Thunder", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738820100/Vilvid_Thunder_CS_oxvxbm.mp3"},
				{ID: 12, Title: "NeOn Lights", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1739169802/NeOn_Lights_CS_waonrk.mp3"},
			},
		},
		{
			Key:     "angry",
			Name:    "Rage Release",
			Emotion: emotion.Anger,
			Tracks:  []Track{
				{ID: 13, Title: "Traitor", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738820105/Traitor_CS_shsqeo.mp3"},
				{ID: 14, Title: "Static ain't the Vibe", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1739169802/Static_ain_t_the_Vibe_CS_morq8e.mp3"},
				{ID: 15, Title: "Light Speed", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1739169802/Light_Speed_CS_jneoxm.mp3"},
			},
		},
		{
			Key:     "motivated",
			Name:    "Motivation Matrix",
			Emotion: emotion.Motivation,
			Tracks:  []Track{
				{ID: 19, Title: "Mama's Blue", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738769559/Mama_s_Blue_CS_crlmtn.mp3"},
				{ID: 20, Title: "Another City", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1739169802/Another_City_CS_oc2ryq.mp3"},
				{ID: 21, Title: "New Year New Me", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1739170402/New_Year_New_Me_CS_jmybtt.mp3"},
			},
		},
		{
			Key:     "jealous",
			Name:    "Envy Echoes",
			Emotion: emotion.Jealousy,
			Tracks:  []Track{
				{ID: 22, Title: "Secrets", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738769562/Secrets_CS_ewsuvi.mp3"},
				{ID: 23, Title: "Traitor", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1738820105/Traitor_CS_shsqeo.mp3"},
				{ID: 24, Title: "Static ain't the Vibe", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1739169802/Static_ain_t_the_Vibe_CS_morq8e.mp3"},
			},
		},
		{
			Key:     "relaxing",
			Name:    "Zen Zone",
			Emotion: emotion.Relaxation,
			Tracks:  []Track{
				{ID: 25, Title: "Digital Dreams", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737610377/Looks%20like%20You.mp3"},
				{ID: 26, Title: "Quantum Calm", Artist: "TimeMachine X", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737610589/Neon%20Dreams.mp3"},
				{ID: 27, Title: "Future Peace", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737610162/Half%20Lit%20Ember.mp3"},
			},
		},
		{
			Key:     "anxious",
			Name:    "Anxiety Antidote",
			Emotion: emotion.Anxiety,
			Tracks:  []Track{
				{ID: 28, Title: "Calm Circuit", Artist: "TimeMachine X", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737610589/Neon%20Dreams.mp3"},
				{ID: 29, Title: "Digital Breath", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737609955/Breathe%20Right%20Strip.mp3"},
				{ID: 30, Title: "Quantum Relief", Artist: "TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737610162/Half%20Lit%20Ember.mp3"},
			},
		},
		{
			Key:     "hopeful",
			Name:    "Hope Horizons",
			Emotion: emotion.Hope,
			Tracks:  []Track{
				{ID: 31, Title: "Future Faith", Artist: "TimeMachine", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737610377/Looks%20like%20You.mp3"},
				{ID: 32, Title: "Digital Dawn", Artist: "TimeMachine X", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737610702/Digital%20Sunset.mp3"},
				{ID: 33, Title: "Quantum Promise", Artist: "TimeMachine & TimeMachine Girlie", URL: "https://res.cloudinary.com/dnjv18giv/video/upload/v1737609955/Breathe%20Right%20Strip.mp3"},
			},
		},
	}
}
