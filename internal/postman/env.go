package postman

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SetEnvironmentValues overwrites values of an exported environment in
// place. Keys missing from the file are appended as default typed values.
func SetEnvironmentValues(raw []byte, values map[string]string) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("postman: environment is not valid JSON")
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := raw
	var err error
	for _, key := range keys {
		index := -1
		gjson.GetBytes(out, "values.#.key").ForEach(func(i, v gjson.Result) bool {
			if v.String() == key {
				index = int(i.Int())
				return false
			}
			return true
		})
		if index >= 0 {
			out, err = sjson.SetBytes(out, fmt.Sprintf("values.%d.value", index), values[key])
		} else {
			out, err = sjson.SetBytes(out, "values.-1", EnvValue{Key: key, Value: values[key], Type: "default", Enabled: true})
		}
		if err != nil {
			return nil, fmt.Errorf("postman: set %s: %w", key, err)
		}
	}
	return out, nil
}
