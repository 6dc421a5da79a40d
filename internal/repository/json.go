package repository

import "github.com/go-faster/jx"

// rawJSON prepares a carrier payload for a JSONB column. Bodies that are not
// valid JSON (an HTML error page, say) are stored as a JSON string so the
// diagnosis survives.
func rawJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if jx.Valid(raw) {
		return string(raw)
	}
	var e jx.Encoder
	e.Str(string(raw))
	return string(e.Bytes())
}
