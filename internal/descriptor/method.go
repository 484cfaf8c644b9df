// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

package descriptor

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
)

// ValueType is the abstract type of a method parameter or return value.
type ValueType uint8

// Value types. Array types wrap a primitive element type.
const (
	TypeInvalid ValueType = iota
	TypeVoid
	TypeBool
	TypeChar8
	TypeChar16
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUInt8
	TypeUInt16
	TypeUInt32
	TypeUInt64
	TypePointer
	TypeFloat
	TypeDouble
	TypeFunction
	TypeString
)

var typeNames = map[ValueType]string{
	TypeVoid:     "void",
	TypeBool:     "bool",
	TypeChar8:    "char8",
	TypeChar16:   "char16",
	TypeInt8:     "int8",
	TypeInt16:    "int16",
	TypeInt32:    "int32",
	TypeInt64:    "int64",
	TypeUInt8:    "uint8",
	TypeUInt16:   "uint16",
	TypeUInt32:   "uint32",
	TypeUInt64:   "uint64",
	TypePointer:  "ptr64",
	TypeFloat:    "float",
	TypeDouble:   "double",
	TypeFunction: "function",
	TypeString:   "string",
}

var typeValues = func() map[string]ValueType {
	m := make(map[string]ValueType, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

// String returns the wire name of the type, or "invalid".
func (t ValueType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "invalid"
}

// MarshalText implements encoding.TextMarshaler.
func (t ValueType) MarshalText() ([]byte, error) {
	n, ok := typeNames[t]
	if !ok {
		return nil, oops.Code("METHOD_INVALID").Errorf("invalid value type %d", uint8(t))
	}
	return []byte(n), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ValueType) UnmarshalText(text []byte) error {
	v, ok := typeValues[string(text)]
	if !ok {
		return oops.Code("METHOD_INVALID").Errorf("unknown value type %q", string(text))
	}
	*t = v
	return nil
}

// JSONSchema describes the wire encoding of a ValueType: one of the type
// names, as a string.
func (ValueType) JSONSchema() *jsonschema.Schema {
	names := make([]any, 0, len(typeNames))
	for t := TypeVoid; t <= TypeString; t++ {
		names = append(names, typeNames[t])
	}
	return &jsonschema.Schema{Type: "string", Enum: names}
}

// Param describes a single parameter or return value: a value type, an
// optional array wrapper around a primitive, and a by-reference flag.
type Param struct {
	Type  ValueType `json:"type"`
	Array bool      `json:"array,omitempty"`
	Ref   bool      `json:"ref,omitempty"`
}

// Validate rejects params the type system cannot express.
func (p Param) Validate() error {
	if p.Type == TypeInvalid {
		return oops.Code("METHOD_INVALID").Errorf("parameter has invalid type")
	}
	if p.Array {
		switch p.Type {
		case TypeVoid, TypeFunction, TypeInvalid:
			return oops.Code("METHOD_INVALID").Errorf("array of %s is not supported", p.Type)
		}
	}
	return nil
}

// Calling conventions. The zero value means the host default.
const (
	CallConvDefault  = ""
	CallConvCDecl    = "cdecl"
	CallConvStdCall  = "stdcall"
	CallConvFastCall = "fastcall"
)

// NoVarArgs marks a signature without a variadic tail.
const NoVarArgs = -1

// Method is an exported method: a name, the native symbol it binds to and
// its abstract signature.
type Method struct {
	Name       string  `json:"name"`
	FuncName   string  `json:"funcName,omitempty"`
	CallConv   string  `json:"callConv,omitempty"`
	ParamTypes []Param `json:"paramTypes"`
	RetType    Param   `json:"retType"`
	VarIndex   int     `json:"varIndex,omitempty"`
}

// methodAlias avoids UnmarshalJSON recursion.
type methodAlias Method

// UnmarshalJSON decodes a method, defaulting VarIndex to NoVarArgs when the
// field is absent.
func (m *Method) UnmarshalJSON(data []byte) error {
	alias := methodAlias{VarIndex: NoVarArgs}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = Method(alias)
	return nil
}

// Validate checks structural method invariants.
func (m *Method) Validate() error {
	if m.Name == "" {
		return oops.Code("METHOD_INVALID").Errorf("method name is required")
	}
	for i, p := range m.ParamTypes {
		if err := p.Validate(); err != nil {
			return oops.Code("METHOD_INVALID").Wrapf(err, "parameter %d", i)
		}
	}
	if m.RetType.Type == TypeInvalid {
		return oops.Code("METHOD_INVALID").Errorf("return type is required")
	}
	if m.VarIndex != NoVarArgs && (m.VarIndex < 0 || m.VarIndex > len(m.ParamTypes)) {
		return oops.Code("METHOD_INVALID").Errorf("varIndex %d out of range for %d parameters", m.VarIndex, len(m.ParamTypes))
	}
	switch m.CallConv {
	case CallConvDefault, CallConvCDecl, CallConvStdCall, CallConvFastCall:
	default:
		return oops.Code("METHOD_INVALID").Errorf("unknown calling convention %q", m.CallConv)
	}
	return nil
}

// Variadic reports whether the signature has a variadic tail.
func (m *Method) Variadic() bool { return m.VarIndex != NoVarArgs }
