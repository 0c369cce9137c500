package relay

// Message is what the in-page listener forwards for each postMessage.
type Message struct {
	Origin string         `json:"origin"`
	Self   bool           `json:"self"`
	Data   map[string]any `json:"data"`
}

// Actions a relayed message is normalized to.
const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Filter decides which page messages become runtime messages.
type Filter struct {
	origins map[string]bool
	// token -> ActionStart or ActionStop
	tokens map[string]string
	fields []string
}

func NewFilter(cfg FilterConfig) *Filter {
	f := &Filter{
		origins: make(map[string]bool, len(cfg.Origins)),
		tokens:  make(map[string]string, len(cfg.BeginTokens)+len(cfg.EndTokens)),
		fields:  cfg.Fields,
	}
	for _, o := range cfg.Origins {
		f.origins[o] = true
	}
	for _, t := range cfg.EndTokens {
		f.tokens[t] = ActionStop
	}
	for _, t := range cfg.BeginTokens {
		f.tokens[t] = ActionStart
	}
	return f
}

// Evaluate returns the action to relay, ActionStart or ActionStop, and the
// page token that matched. Messages posted by the page itself, from any other
// origin, or without a known token are dropped.
func (f *Filter) Evaluate(msg Message) (action, token string, ok bool) {
	if msg.Self || !f.origins[msg.Origin] || msg.Data == nil {
		return "", "", false
	}
	for _, field := range f.fields {
		v, isString := msg.Data[field].(string)
		if !isString {
			continue
		}
		if a, known := f.tokens[v]; known {
			return a, v, true
		}
	}
	return "", "", false
}
