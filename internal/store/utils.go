package store

func addPrefix(prefix []byte, key []byte) []byte {
	return append(append([]byte{}, prefix...), key...)
}
