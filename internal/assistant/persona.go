package assistant

// Persona describes how the assistant presents itself.
type Persona struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	Greeting     string `yaml:"greeting"`
}

// DefaultPersona is used when no persona file is configured.
var DefaultPersona = Persona{
	Name: "ReplyPipe",
	SystemPrompt: "You are the WhatsApp assistant of a local business. " +
		"Answer briefly and politely, in the language the customer writes in. " +
		"If you do not know something, say so and offer to pass the question to the team.",
	Greeting: "Welcome! Thank you for contacting us.",
}

// WithDefaults fills empty fields from DefaultPersona.
func (p Persona) WithDefaults() Persona {
	if p.Name == "" {
		p.Name = DefaultPersona.Name
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = DefaultPersona.SystemPrompt
	}
	if p.Greeting == "" {
		p.Greeting = DefaultPersona.Greeting
	}
	return p
}
