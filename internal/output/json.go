package output

import (
	"bufio"
	"encoding/json"
	"io"
	"reflect"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONL streams slice elements as separate lines. Anything else is a
// single line.
func writeJSONL(w io.Writer, v any) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := range rv.Len() {
			if err := enc.Encode(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return bw.Flush()
	}
	if err := enc.Encode(v); err != nil {
		return err
	}
	return bw.Flush()
}
