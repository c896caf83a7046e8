package template

// bankSchema is the JSON Schema a bank document must satisfy before
// decoding. Schema validation catches structural problems (missing fields,
// wrong shapes) with readable errors; the numeric coefficient contract
// (finiteness, pole stability) is checked per template after decoding.
const bankSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "SPIIR template bank",
  "type": "object",
  "required": ["bank", "templates"],
  "properties": {
    "bank": {
      "type": "object",
      "required": ["sample_rate"],
      "properties": {
        "name": {"type": "string"},
        "sample_rate": {"type": "number", "exclusiveMinimum": 0},
        "generated_by": {"type": "string"},
        "generated_at": {"type": "string"}
      }
    },
    "templates": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "mass1", "mass2", "support", "filters"],
        "properties": {
          "id": {"type": "integer", "minimum": 0},
          "name": {"type": "string"},
          "mass1": {"type": "number"},
          "mass2": {"type": "number"},
          "spin1z": {"type": "number"},
          "spin2z": {"type": "number"},
          "support": {"type": "integer"},
          "eff_dist_scale": {"type": "number"},
          "filters": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["pole", "gain", "weight"],
              "properties": {
                "pole": {"$ref": "#/definitions/complex"},
                "gain": {"$ref": "#/definitions/complex"},
                "weight": {"$ref": "#/definitions/complex"}
              }
            }
          }
        }
      }
    }
  },
  "definitions": {
    "complex": {
      "type": "array",
      "items": {"type": "number"},
      "minItems": 2,
      "maxItems": 2
    }
  }
}`
