package component_test

import (
	"fmt"
	"reflect"

	"github.com/tanghyd/spiir-search/component"
)

// ExampleGenerateConfigSchema shows how a processing stage derives its
// configuration schema from struct tags.
func ExampleGenerateConfigSchema() {
	type TriggerExtractorConfig struct {
		Detector     string  `json:"detector"      schema:"required,type:enum,description:Detector this instance filters,enum:H1|L1|V1|K1"`
		SNRThreshold float64 `json:"snr_threshold" schema:"type:float,description:Trigger threshold in SNR,min:3,max:20,default:5.5,category:basic"`
		BankBucket   string  `json:"bank_bucket"   schema:"required,type:string,description:KV bucket holding template banks"`
		LogLevel     string  `json:"log_level"     schema:"type:enum,description:Logging level,enum:debug|info|warn|error,default:info,category:advanced"`
	}

	// One-time reflection cost, typically paid at registration.
	schema := component.GenerateConfigSchema(reflect.TypeOf(TriggerExtractorConfig{}))

	fmt.Println(len(schema.Properties), "properties")
	fmt.Println("required:", schema.Required)

	// Output:
	// 4 properties
	// required: [detector bank_bucket]
}

// ExampleParseSchemaTag shows a single tag with numeric constraints.
func ExampleParseSchemaTag() {
	tag := "type:int,description:Ingest port,min:1,max:65535,default:8080"
	directives, err := component.ParseSchemaTag(tag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Type: %s\n", directives.Type)
	fmt.Printf("Description: %s\n", directives.Description)
	fmt.Printf("Min: %d\n", *directives.Min)
	fmt.Printf("Max: %d\n", *directives.Max)
	fmt.Printf("Default: %s\n", directives.Default)

	// Output:
	// Type: int
	// Description: Ingest port
	// Min: 1
	// Max: 65535
	// Default: 8080
}

// ExampleParseSchemaTag_enum shows pipe-separated enum values.
func ExampleParseSchemaTag_enum() {
	tag := "type:enum,description:Detector,enum:H1|L1|V1|K1,default:H1"
	directives, _ := component.ParseSchemaTag(tag)

	fmt.Printf("Type: %s\n", directives.Type)
	fmt.Printf("Enum values: %v\n", directives.Enum)
	fmt.Printf("Default: %s\n", directives.Default)

	// Output:
	// Type: enum
	// Enum values: [H1 L1 V1 K1]
	// Default: H1
}

// ExampleParseSchemaTag_flags shows the boolean flag directives.
func ExampleParseSchemaTag_flags() {
	tag := "required,readonly,type:string,description:Instance identifier"
	directives, _ := component.ParseSchemaTag(tag)

	fmt.Printf("Type: %s\n", directives.Type)
	fmt.Printf("Required: %v\n", directives.Required)
	fmt.Printf("ReadOnly: %v\n", directives.ReadOnly)

	// Output:
	// Type: string
	// Required: true
	// ReadOnly: true
}
