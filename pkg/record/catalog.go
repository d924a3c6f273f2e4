// Package record implements the InfoLogger field catalog, the versioned
// protocol table, and the record codec (§3, §4.1 of the specification).
package record

import "fmt"

// FieldType is the semantic type carried by a field value.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeDouble
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeDouble:
		return "double"
	default:
		return "unknown"
	}
}

// Field is one named, typed column of a protocol.
type Field struct {
	Name string
	Type FieldType
}

// DefaultFields is the canonical default-protocol (version "1.4") field
// catalog. Order matters: it is the wire order, and message must be last.
var DefaultFields = []Field{
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
	{"run", TypeInt},
	{"errcode", TypeInt},
	{"errline", TypeInt},
	{"errsource", TypeString},
	{"message", TypeString},
}

// field indices into DefaultFields, exported for consumers that need a
// stable numeric handle without calling FindField at every use site.
const (
	FieldSeverity = iota
	FieldLevel
	FieldTimestamp
	FieldHostname
	FieldRolename
	FieldPID
	FieldUsername
	FieldSystem
	FieldFacility
	FieldDetector
	FieldPartition
	FieldRun
	FieldErrCode
	FieldErrLine
	FieldErrSource
	FieldMessage
)

func init() {
	if DefaultFields[FieldMessage].Name != "message" || DefaultFields[FieldMessage].Type != TypeString {
		panic("record: default protocol catalog must end in a string field named message")
	}
}

// FindField resolves a field name to its index in the default protocol.
// Consumers address fields exclusively through this stable index (§4.1).
func FindField(name string) (int, bool) {
	for i, f := range DefaultFields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

// MustFindField is FindField for static, known-good names (index keys,
// catalog wiring); it panics on an unknown name since that is a
// programming error, never an input-dependent one.
func MustFindField(name string) int {
	i, ok := FindField(name)
	if !ok {
		panic(fmt.Sprintf("record: unknown field %q", name))
	}
	return i
}
