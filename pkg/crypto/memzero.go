package crypto

// Zero overwrites b in place. Call it on key material before dropping the
// last reference.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
