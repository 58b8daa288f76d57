package crypto

// Zero overwrites a byte slice in memory with zeros. Key material goes
// through here the moment it stops being needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
