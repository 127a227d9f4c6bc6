package program

import (
	"encoding/json"
	"os"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// JSON serialization of program descriptors.
//
// Attribute values encode as {"kind": ..., <kind>: value} objects so the
// closed attribute type set survives a round trip: plain JSON would decode
// every number as float64.

type jsonProgram struct {
	Blocks []jsonBlock `json:"blocks"`
}

type jsonBlock struct {
	Vars []jsonVar `json:"vars,omitempty"`
	Ops  []jsonOp  `json:"ops,omitempty"`
}

type jsonVar struct {
	Name        string `json:"name"`
	DType       string `json:"dtype"`
	Dims        []int  `json:"dims,omitempty"`
	Persistable bool   `json:"persistable,omitempty"`
}

type jsonOp struct {
	Type    string              `json:"type"`
	Inputs  map[string][]string `json:"inputs,omitempty"`
	Outputs map[string][]string `json:"outputs,omitempty"`
	Attrs   map[string]jsonAttr `json:"attrs,omitempty"`
}

type jsonAttr struct {
	Kind    string    `json:"kind"`
	Bool    *bool     `json:"bool,omitempty"`
	Int     *int      `json:"int,omitempty"`
	Float   *float64  `json:"float,omitempty"`
	Str     *string   `json:"string,omitempty"`
	Ints    []int     `json:"ints,omitempty"`
	Floats  []float64 `json:"floats,omitempty"`
	Strings []string  `json:"strings,omitempty"`
}

func encodeAttr(value any) jsonAttr {
	switch v := value.(type) {
	case bool:
		return jsonAttr{Kind: "bool", Bool: &v}
	case int:
		return jsonAttr{Kind: "int", Int: &v}
	case float64:
		return jsonAttr{Kind: "float", Float: &v}
	case string:
		return jsonAttr{Kind: "string", Str: &v}
	case []int:
		return jsonAttr{Kind: "ints", Ints: v}
	case []float64:
		return jsonAttr{Kind: "floats", Floats: v}
	case []string:
		return jsonAttr{Kind: "strings", Strings: v}
	}
	// SetAttr enforces the closed type set, this is unreachable.
	return jsonAttr{}
}

func decodeAttr(a jsonAttr) (any, error) {
	switch a.Kind {
	case "bool":
		if a.Bool == nil {
			return nil, errors.Errorf("attribute of kind %q carries no value", a.Kind)
		}
		return *a.Bool, nil
	case "int":
		if a.Int == nil {
			return nil, errors.Errorf("attribute of kind %q carries no value", a.Kind)
		}
		return *a.Int, nil
	case "float":
		if a.Float == nil {
			return nil, errors.Errorf("attribute of kind %q carries no value", a.Kind)
		}
		return *a.Float, nil
	case "string":
		if a.Str == nil {
			return nil, errors.Errorf("attribute of kind %q carries no value", a.Kind)
		}
		return *a.Str, nil
	case "ints":
		return a.Ints, nil
	case "floats":
		return a.Floats, nil
	case "strings":
		return a.Strings, nil
	}
	return nil, errors.Errorf("unknown attribute kind %q", a.Kind)
}

// MarshalJSON implements json.Marshaler.
func (p *ProgramDesc) MarshalJSON() ([]byte, error) {
	jp := jsonProgram{Blocks: make([]jsonBlock, 0, len(p.blocks))}
	for _, b := range p.blocks {
		jb := jsonBlock{}
		for _, name := range b.VarNames() {
			v := b.vars[name]
			jb.Vars = append(jb.Vars, jsonVar{
				Name:        v.name,
				DType:       v.dtype.String(),
				Dims:        v.dims,
				Persistable: v.persistable,
			})
		}
		for _, op := range b.ops {
			jop := jsonOp{
				Type:    op.opType,
				Inputs:  op.inputs,
				Outputs: op.outputs,
			}
			if len(op.attrs) > 0 {
				jop.Attrs = make(map[string]jsonAttr, len(op.attrs))
				for name, value := range op.attrs {
					jop.Attrs[name] = encodeAttr(value)
				}
			}
			jb.Ops = append(jb.Ops, jop)
		}
		jp.Blocks = append(jp.Blocks, jb)
	}
	return json.Marshal(jp)
}

// UnmarshalJSON implements json.Unmarshaler. It replaces any previous
// contents of p.
func (p *ProgramDesc) UnmarshalJSON(data []byte) error {
	var jp jsonProgram
	if err := json.Unmarshal(data, &jp); err != nil {
		return errors.WithStack(err)
	}
	if len(jp.Blocks) == 0 {
		return errors.Errorf("program has no blocks, it needs at least a main block")
	}
	p.blocks = nil
	for blockIdx, jb := range jp.Blocks {
		b := p.AppendBlock()
		for _, jv := range jb.Vars {
			dtype, err := dtypes.DTypeString(jv.DType)
			if err != nil {
				return errors.Wrapf(err, "variable %q in block %d", jv.Name, blockIdx)
			}
			v := NewVarDesc(jv.Name, dtype, jv.Dims...).SetPersistable(jv.Persistable)
			b.DeclareVar(v)
		}
		for opIdx, jop := range jb.Ops {
			op := NewOpDesc(jop.Type)
			for param, varNames := range jop.Inputs {
				op.SetInput(param, varNames...)
			}
			for param, varNames := range jop.Outputs {
				op.SetOutput(param, varNames...)
			}
			for name, ja := range jop.Attrs {
				value, err := decodeAttr(ja)
				if err != nil {
					return errors.Wrapf(err, "attribute %q of op #%d (%s) in block %d",
						name, opIdx, jop.Type, blockIdx)
				}
				op.attrs[name] = value
			}
			b.AppendOp(op)
		}
	}
	return nil
}

// Save writes the program as (indented) JSON to the given path.
func (p *ProgramDesc) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode program")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write program to %s", path)
	}
	return nil
}

// Load reads a program saved with Save.
func Load(path string) (*ProgramDesc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read program from %s", path)
	}
	p := &ProgramDesc{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "failed to decode program from %s", path)
	}
	return p, nil
}
