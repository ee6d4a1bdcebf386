// Generates the JSON schema for the tubefeed configuration file. The result is
// embedded by pkg/config and checked against every loaded config, so it has to
// be regenerated whenever the Config struct changes (see the go:generate
// directive in pkg/config).
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/tubefeed/tubefeed/pkg/config"
)

func main() {
	path := "schema.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	if err := writeSchema(path); err != nil {
		log.Fatalf("schema generation failed: %v", err)
	}
	fmt.Printf("wrote %s\n", path)
}

func writeSchema(path string) error {
	schema, err := config.GenerateSchema()
	if err != nil {
		return fmt.Errorf("reflect config schema: %w", err)
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
