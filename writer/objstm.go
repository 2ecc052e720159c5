package writer

import (
	"bytes"
	"fmt"

	"github.com/wudi/pdfstore/filters"
	"github.com/wudi/pdfstore/ir/raw"
)

// objStmCapacity bounds how many objects share one object stream so a
// reader never has to decode a huge container for a single member.
const objStmCapacity = 100

// buildObjStm lays members out as an object stream: the "num offset"
// header, then each member's syntax. Member strings are stored as they
// are; the container is encrypted as a whole when it is written.
func buildObjStm(members []raw.PObject, level int) (*raw.StreamObj, error) {
	var header, body bytes.Buffer
	for i, m := range members {
		if i > 0 {
			header.WriteByte(' ')
		}
		fmt.Fprintf(&header, "%d %d", m.Ref.Num, body.Len())
		appendObject(&body, m.Object)
		body.WriteByte('\n')
	}
	header.WriteByte('\n')
	first := header.Len()
	header.Write(body.Bytes())

	data, err := filters.EncodeFlate(header.Bytes(), level)
	if err != nil {
		return nil, err
	}
	dict := raw.Dict()
	dict.Set("Type", raw.NameLiteral("ObjStm"))
	dict.Set("N", raw.NumberInt(int64(len(members))))
	dict.Set("First", raw.NumberInt(int64(first)))
	dict.Set("Filter", raw.NameLiteral("FlateDecode"))
	return raw.NewStream(dict, data), nil
}
