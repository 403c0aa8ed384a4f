package event

// IsReplaceable reports whether kind follows NIP-01's replaceable-event
// rule: only the newest event of a given (pubkey, kind) is kept. Kind
// 0 (metadata) and 3 (contacts) are replaceable, as is the
// 10000-19999 range.
func IsReplaceable(kind int) bool {
	if kind == 0 || kind == 3 {
		return true
	}
	return kind >= 10000 && kind < 20000
}

// IsParameterizedReplaceable reports whether kind follows NIP-01's
// addressable-event rule (30000-39999): only the newest event of a
// given (pubkey, kind, d-tag) is kept.
func IsParameterizedReplaceable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// IsEphemeral reports whether kind is in the 20000-29999 range: never
// stored, only relayed live.
func IsEphemeral(kind int) bool {
	return kind >= 20000 && kind < 30000
}
