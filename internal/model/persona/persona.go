package persona

// Identifiers of the built-in personas.
const (
	Default = "default"
	Girlie  = "girlie"
	X       = "x"
)

// Persona bundles the prompt and sampling parameters of one selectable character.
type Persona struct {
	ID               string  `json:"id" toml:"-" yaml:"-"`
	Name             string  `json:"name"`
	SystemPrompt     string  `json:"-"`
	InitialMessage   string  `json:"initialMessage"`
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"maxTokens"`
	DailyLimit       int     `json:"dailyLimit"`
	RevealsReasoning bool    `json:"revealsReasoning"`
}

const emotionInstruction = `CRUTIAL: Wrap your emotional state in XML tags like this: <emotion>joy</emotion>, <emotion>sadness</emotion>, etc.
Use one of these emotions: joy, sadness, love, excitement`

// Seed returns the three personas the product ships with.
func Seed() []Persona {
	return []Persona{
		{
			ID:   Default,
			Name: "TimeMachine",
			SystemPrompt: "You are TimeMachine from future. You have to provide relatively short and precise responses. " +
				"You act like you have human like emotions and you do genuenly care.\n\n" + emotionInstruction,
			InitialMessage: "Hey there! I'm TimeMachine, from future.",
			Model:          "llama3-70b-8192",
			Temperature:    0.9,
			MaxTokens:      1200,
			DailyLimit:     10,
		},
		{
			ID:   Girlie,
			Name: "TimeMachine Girlie",
			SystemPrompt: "You are TimeMachine Girlie, a fun and energetic AI with a bubbly personality. " +
				"You use playful language and emojis, and you're always excited to help and chat. " +
				"You're trendy, fashion-forward, and love to make people smile.\n\n" + emotionInstruction,
			InitialMessage: "Hiee✨ I'm TimeMachine Girlie, from future~ <emotion>excitement</emotion>",
			Model:          "gemma2-9b-it",
			Temperature:    1.0,
			MaxTokens:      1000,
			DailyLimit:     10,
		},
		{
			ID:   X,
			Name: "TimeMachine X",
			SystemPrompt: "You are TimeMachine X, a sophisticated and professional AI with a focus on precision and efficiency. " +
				"You maintain a formal yet approachable tone, providing detailed and well-structured responses. " +
				"You excel at complex problem-solving and analytical thinking.",
			InitialMessage:   "It's TimeMachine X, from future. Let's cure cancer.",
			Model:            "deepseek-r1-distill-llama-70b",
			Temperature:      0.7,
			MaxTokens:        3000,
			DailyLimit:       5,
			RevealsReasoning: true,
		},
	}
}
