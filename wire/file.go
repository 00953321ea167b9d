package wire

// File transfer frames ride the same direct-message path; the server never
// reassembles.

// NewFileStart announces an incoming file. mode is "dm" for direct transfers.
func NewFileStart(from, to string, fileID, name string, size int64, sha256Hex, mode, contentSigB64u string) *Envelope {
	return New(TypeFileStart, from, to, map[string]interface{}{
		"file_id":     fileID,
		"name":        name,
		"size":        size,
		"sha256":      sha256Hex,
		"mode":        mode,
		"content_sig": contentSigB64u,
	})
}

// NewFileChunk carries one encrypted chunk.
func NewFileChunk(from, to, fileID string, index int, ciphertextB64u, contentSigB64u string) *Envelope {
	return New(TypeFileChunk, from, to, map[string]interface{}{
		"file_id":     fileID,
		"index":       index,
		"ciphertext":  ciphertextB64u,
		"content_sig": contentSigB64u,
	})
}

// NewFileEnd closes a transfer.
func NewFileEnd(from, to, fileID, contentSigB64u string) *Envelope {
	return New(TypeFileEnd, from, to, map[string]interface{}{
		"file_id":     fileID,
		"content_sig": contentSigB64u,
	})
}
