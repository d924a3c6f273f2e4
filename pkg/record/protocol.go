package record

// Protocol is a versioned, ordered field list. Multiple protocols coexist
// so legacy peers keep working; each carries a ConvertIndex table mapping
// its field positions onto the default protocol's positions (or -1 when
// no matching field exists there); the default one's is the identity.
type Protocol struct {
	Version      string
	Fields       []Field
	ConvertIndex []int
}

// protocols holds every installed protocol, the default one first. Built
// once at process start and never mutated afterward (§9 "static mutable
// catalogs -> initialized-once tables").
var protocols []*Protocol

// Default is the canonical, installed default protocol (version "1.4").
var Default *Protocol

func init() {
	protocols = []*Protocol{
		{Version: "1.4", Fields: DefaultFields},
		{Version: "1.3", Fields: []Field{
			{"severity", TypeString},
			{"level", TypeInt},
			{"timestamp", TypeDouble},
			{"hostname", TypeString},
			{"rolename", TypeString},
			{"pid", TypeInt},
			{"username", TypeString},
			{"system", TypeString},
			{"facility", TypeString},
			{"detector", TypeString},
			{"partition", TypeString},
			{"dest", TypeString}, // no counterpart in 1.4, dropped on conversion
			{"run", TypeInt},
			{"errcode", TypeInt},
			{"errline", TypeInt},
			{"errsource", TypeString},
			{"message", TypeString},
		}},
		{Version: "1.2", Fields: []Field{
			{"severity", TypeString},
			{"timestamp", TypeDouble},
			{"hostname", TypeString},
			{"rolename", TypeString},
			{"pid", TypeInt},
			{"username", TypeString},
			{"system", TypeString},
			{"facility", TypeString},
			{"dest", TypeString}, // no counterpart in 1.4, dropped on conversion
			{"run", TypeInt},
			{"message", TypeString},
		}},
	}

	for _, p := range protocols {
		if len(p.Fields) == 0 {
			panic("record: protocol " + p.Version + " has no fields")
		}
		last := p.Fields[len(p.Fields)-1]
		if last.Name != "message" || last.Type != TypeString {
			panic("record: protocol " + p.Version + " must end with a string message field")
		}
		p.ConvertIndex = make([]int, len(p.Fields))
		for i, f := range p.Fields {
			p.ConvertIndex[i] = -1
			for k, d := range DefaultFields {
				if d.Name == f.Name && d.Type == f.Type {
					p.ConvertIndex[i] = k
					break
				}
			}
		}
	}
	Default = protocols[0]
}

// LookupProtocol returns the installed protocol with the given version
// string, or nil if the version is unknown (decode must reject the record).
func LookupProtocol(version string) *Protocol {
	for _, p := range protocols {
		if p.Version == version {
			return p
		}
	}
	return nil
}

// Protocols returns all installed protocols, default first. The returned
// slice is shared and must not be mutated by callers.
func Protocols() []*Protocol {
	return protocols
}
