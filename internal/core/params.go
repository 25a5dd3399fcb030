package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a tagged union standing in for the arbitrary dynamic parameter
// values the Gateway's operations accept. Representing parameters this way,
// rather than as bare `any`, lets Params render a stable byte sequence for
// Cache Key hashing regardless of the concrete Go types a caller happened
// to pass in.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []Value
	Map  Params
}

func String(s string) Value             { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value             { return Value{Kind: KindNumber, Num: n} }
func Boolean(b bool) Value               { return Value{Kind: KindBool, Bool: b} }
func List(items ...Value) Value          { return Value{Kind: KindList, List: items} }
func Map(m Params) Value                 { return Value{Kind: KindMap, Map: m} }
func Null() Value                        { return Value{Kind: KindNull} }

// Params is an ordered-by-key mapping of string to Value. Map iteration
// order in Go is randomized, so canonicalization always re-sorts keys before
// rendering; Params itself is just the storage.
type Params map[string]Value

// Canonicalize renders params as a stable byte string: keys sorted
// lexicographically, values rendered with an explicit type tag so that
// "1" (string) and 1 (number) never collide, and nested maps/lists
// recursively canonicalized the same way. Semantically equal Params values
// always produce byte-identical output regardless of construction order.
func (p Params) Canonicalize() []byte {
	var b strings.Builder
	writeCanonicalParams(&b, p)
	return []byte(b.String())
}

func writeCanonicalParams(b *strings.Builder, p Params) {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		writeCanonicalValue(b, p[k])
	}
	b.WriteByte('}')
}

func writeCanonicalValue(b *strings.Builder, v Value) {
	switch v.Kind {
	case KindNull:
		b.WriteString("null")
	case KindString:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(v.Str))
	case KindNumber:
		b.WriteString("n:")
		b.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
	case KindBool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(v.Bool))
	case KindList:
		b.WriteString("l:[")
		for i, item := range v.List {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalValue(b, item)
		}
		b.WriteByte(']')
	case KindMap:
		b.WriteString("m:")
		writeCanonicalParams(b, v.Map)
	default:
		b.WriteString(fmt.Sprintf("?:%v", v))
	}
}
