package postman

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/collection.json
var collectionSchema []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(collectionSchema))
	})
	return schema, schemaErr
}

// ValidationError lists every schema violation of a collection.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "postman: invalid collection: " + strings.Join(e.Problems, "; ")
}

// ValidateCollection checks raw collection JSON against the v2.1 schema.
func ValidateCollection(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("postman: load schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("postman: validate collection: %w", err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, re := range result.Errors() {
		verr.Problems = append(verr.Problems, re.String())
	}
	return verr
}
