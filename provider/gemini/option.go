package gemini

// Option configures a Gemini client.
type Option func(*Client)

// WithTemperature sets the sampling temperature (default 0.1).
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithTopP sets nucleus sampling top-p (default 0.9).
func WithTopP(p float64) Option {
	return func(c *Client) { c.topP = p }
}

// WithMediaResolution sets the media resolution for multimodal inputs.
// Valid values: "MEDIA_RESOLUTION_LOW", "MEDIA_RESOLUTION_MEDIUM",
// "MEDIA_RESOLUTION_HIGH". Only sent when explicitly set.
func WithMediaResolution(r string) Option {
	return func(c *Client) { c.mediaResolution = r }
}

// WithThinking enables thinking mode (default off). When enabled, sends
// thinkingConfig with budget -1 (dynamic).
func WithThinking(enabled bool) Option {
	return func(c *Client) { c.thinkingEnabled = enabled }
}

// WithSystemInstruction sets a fixed system instruction sent with every
// request. Agent prompts arrive as request parts, so this is only needed
// for backend-wide framing.
func WithSystemInstruction(s string) Option {
	return func(c *Client) { c.system = s }
}
