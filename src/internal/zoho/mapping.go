package zoho

import "strings"

// Bulk write operations
const (
	OperationUpsert = "upsert"
	OperationInsert = "insert"
)

// Match-field preference for upserts, in order. Each is a column Zoho
// guarantees unique server-side.
var findByPreference = []string{"Email", "Company_Email", "Work_Email"}

// BuildFieldMappings constructs the positional field mappings for a bulk
// write from a CSV header row. Columns named "id" or ending in "_id"
// (case-insensitive) are excluded: they hold remote-assigned identifiers
// from the original export and would corrupt a fresh insert or upsert if
// replayed verbatim. Surviving columns are re-indexed in original order.
func BuildFieldMappings(headers []string) []FieldMapping {
	var mappings []FieldMapping
	for _, h := range headers {
		if isRemoteID(h) {
			continue
		}
		mappings = append(mappings, FieldMapping{
			APIName: h,
			Index:   len(mappings),
		})
	}
	return mappings
}

// ChooseOperation selects the bulk write operation and match field for a
// set of mapped columns. Upsert is the default; when no suitable match
// field exists the client falls back to a plain insert.
func ChooseOperation(mappings []FieldMapping) (operation, findBy string) {
	for _, candidate := range findByPreference {
		for _, m := range mappings {
			if m.APIName == candidate {
				return OperationUpsert, candidate
			}
		}
	}
	return OperationInsert, ""
}

func isRemoteID(header string) bool {
	lower := strings.ToLower(header)
	return lower == "id" || strings.HasSuffix(lower, "_id")
}
