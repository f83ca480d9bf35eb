package tools

import (
	"bytes"
	"encoding/json"
)

// Params holds positional statement parameters. Numbers are kept as json.Number so
// integers beyond 2^53 reach the engine exactly.
type Params []any

func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v []any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*p = v
	return nil
}
