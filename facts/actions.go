package facts

import (
	"payrecon/model"
	"payrecon/rawdecode"
)

// AdminActions returns the audit trail the records server appends to the
// payload each time an admin action is applied, oldest first.
func AdminActions(rec model.PaymentRecord) []map[string]any {
	payload := rawdecode.Decode(rec.RawResponse)
	var out []map[string]any
	for _, a := range rawdecode.Array(payload, "_admin_actions") {
		if m, ok := a.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
