package core

import "encoding/json"

// jsonValue is the wire shape for Value: a kind tag plus whichever payload
// field applies. Used only for persistence (internal/cache writes Cache
// Entries to disk); the in-memory Canonicalize path never touches JSON.
type jsonValue struct {
	Kind ValueKind   `json:"k"`
	Str  string      `json:"s,omitempty"`
	Num  float64     `json:"n,omitempty"`
	Bool bool        `json:"b,omitempty"`
	List []jsonValue `json:"l,omitempty"`
	Map  map[string]jsonValue `json:"m,omitempty"`
}

func (v Value) toJSON() jsonValue {
	jv := jsonValue{Kind: v.Kind, Str: v.Str, Num: v.Num, Bool: v.Bool}
	if v.List != nil {
		jv.List = make([]jsonValue, len(v.List))
		for i, item := range v.List {
			jv.List[i] = item.toJSON()
		}
	}
	if v.Map != nil {
		jv.Map = make(map[string]jsonValue, len(v.Map))
		for k, mv := range v.Map {
			jv.Map[k] = mv.toJSON()
		}
	}
	return jv
}

func (jv jsonValue) toValue() Value {
	v := Value{Kind: jv.Kind, Str: jv.Str, Num: jv.Num, Bool: jv.Bool}
	if jv.List != nil {
		v.List = make([]Value, len(jv.List))
		for i, item := range jv.List {
			v.List[i] = item.toValue()
		}
	}
	if jv.Map != nil {
		v.Map = make(Params, len(jv.Map))
		for k, mv := range jv.Map {
			v.Map[k] = mv.toValue()
		}
	}
	return v
}

// MarshalJSON implements json.Marshaler.
func (p Params) MarshalJSON() ([]byte, error) {
	out := make(map[string]jsonValue, len(p))
	for k, v := range p {
		out[k] = v.toJSON()
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Params) UnmarshalJSON(data []byte) error {
	var in map[string]jsonValue
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := make(Params, len(in))
	for k, jv := range in {
		out[k] = jv.toValue()
	}
	*p = out
	return nil
}
