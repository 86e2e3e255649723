package component

// State carries session state. Its value never appears in a response
// payload; the pipeline fills it from the state store and commits the
// function's returned state back.
type State struct {
	base
	value any
}

// NewState creates a state adapter whose new sessions start at def.
func NewState(def any) *State {
	return &State{base: base{name: "state", kind: KindState}, value: def}
}

func (s *State) Default() any { return s.value }

func (s *State) Preprocess(raw any) (any, error)          { return identity(raw) }
func (s *State) Postprocess(result any) (any, error)      { return identity(result) }
func (s *State) Serialize(value any, _ bool) (any, error) { return identity(value) }
func (s *State) Deserialize(wire any) (any, error)        { return identity(wire) }
func (s *State) TestInput() any                           { return s.value }
