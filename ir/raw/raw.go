package raw

import (
	"fmt"
)

// ObjectRef uniquely identifies an indirect PDF object.
// Equality requires both the number and the generation to match.
type ObjectRef struct {
	Num uint32
	Gen uint16
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Less orders references by object number, then generation.
func (r ObjectRef) Less(o ObjectRef) bool {
	if r.Num != o.Num {
		return r.Num < o.Num
	}
	return r.Gen < o.Gen
}

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// PObject pairs an indirect reference with its value.
type PObject struct {
	Ref    ObjectRef
	Object Object
}

// Stream returns the value as a stream, if it is one.
func (p PObject) Stream() (*StreamObj, bool) {
	s, ok := p.Object.(*StreamObj)
	return s, ok
}

// Clone returns a deep copy of composite objects. Stream data is shared
// because writers never mutate payload bytes in place.
func Clone(o Object) Object {
	switch v := o.(type) {
	case *DictObj:
		if v == nil {
			return v
		}
		d := &DictObj{KV: make(map[string]Object, len(v.KV))}
		for k, item := range v.KV {
			d.KV[k] = Clone(item)
		}
		return d
	case *ArrayObj:
		if v == nil {
			return v
		}
		arr := &ArrayObj{Items: make([]Object, len(v.Items))}
		for i, item := range v.Items {
			arr.Items[i] = Clone(item)
		}
		return arr
	case *StreamObj:
		if v == nil {
			return v
		}
		var dict *DictObj
		if v.Dict != nil {
			dict = Clone(v.Dict).(*DictObj)
		}
		return &StreamObj{Dict: dict, Data: v.Data}
	case StringObj:
		return StringObj{Bytes: append([]byte(nil), v.Bytes...)}
	case HexStringObj:
		return HexStringObj{Bytes: append([]byte(nil), v.Bytes...)}
	default:
		return o
	}
}
