package client

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/WillLehmann04/secure-programming/canon"
	"github.com/WillLehmann04/secure-programming/crypto"
	"github.com/WillLehmann04/secure-programming/wire"
)

// File transfer rides the direct-message path: a FILE_START manifest, OAEP
// encrypted FILE_CHUNK frames, and a FILE_END. The receiver reassembles and
// checks the manifest hash; servers relay the frames untouched.

// fileChunkSpan is the plaintext bytes per FILE_CHUNK frame.
const fileChunkSpan = 16 * 1024

type incomingFile struct {
	name   string
	size   int64
	sha    string
	from   string
	chunks map[int64][]byte // plaintext by index
}

// SendFile streams data to a recipient as a chunked, encrypted transfer.
func (c *Client) SendFile(to, name string, data []byte) error {
	pub := c.peerKey(to)
	if pub == nil {
		return fmt.Errorf("client: no key known for %s", to)
	}

	fileID := uuid.NewString()
	sum := sha256.Sum256(data)

	ts := wire.NowMS()
	cs, err := crypto.SignDirectContent(c.key, []byte(fileID), c.userID, to, ts)
	if err != nil {
		return err
	}
	start := wire.NewFileStart(c.userID, to, fileID, name, int64(len(data)),
		hex.EncodeToString(sum[:]), "dm", canon.B64u(cs))
	start.Ts = ts
	if err := start.Sign(c.key); err != nil {
		return err
	}
	if err := c.sendFrame(start); err != nil {
		return err
	}

	for index := 0; len(data) > 0; index++ {
		span := len(data)
		if span > fileChunkSpan {
			span = fileChunkSpan
		}
		ct, err := encryptBlocks(pub, data[:span])
		if err != nil {
			return err
		}
		data = data[span:]

		cts := wire.NowMS()
		ccs, err := crypto.SignDirectContent(c.key, ct, c.userID, to, cts)
		if err != nil {
			return err
		}
		chunk := wire.NewFileChunk(c.userID, to, fileID, index, canon.B64u(ct), canon.B64u(ccs))
		chunk.Ts = cts
		if err := chunk.Sign(c.key); err != nil {
			return err
		}
		if err := c.sendFrame(chunk); err != nil {
			return err
		}
	}

	ets := wire.NowMS()
	ecs, err := crypto.SignDirectContent(c.key, []byte(fileID), c.userID, to, ets)
	if err != nil {
		return err
	}
	end := wire.NewFileEnd(c.userID, to, fileID, canon.B64u(ecs))
	end.Ts = ets
	if err := end.Sign(c.key); err != nil {
		return err
	}
	return c.sendFrame(end)
}

// handleFilePayload advances one transfer: manifest, chunk, or completion.
func (c *Client) handleFilePayload(payload map[string]interface{}) {
	fileID, _ := payload["file_id"].(string)
	if fileID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := payload["name"].(string); ok {
		c.files[fileID] = &incomingFile{
			name:   name,
			size:   int64(asFloat(payload["size"])),
			sha:    asString(payload["sha256"]),
			from:   asString(payload["from"]),
			chunks: make(map[int64][]byte),
		}
		return
	}

	f := c.files[fileID]
	if f == nil {
		return
	}

	if _, ok := payload["index"]; ok {
		ct, err := canon.B64uDecode(asString(payload["ciphertext"]))
		if err != nil {
			return
		}
		pt, err := decryptBlocks(c.key, ct)
		if err != nil {
			c.log.Debugw("undecryptable file chunk", "file", fileID)
			return
		}
		f.chunks[int64(asFloat(payload["index"]))] = pt
		return
	}

	// FILE_END: assemble in index order and check the manifest hash
	delete(c.files, fileID)
	indexes := make([]int64, 0, len(f.chunks))
	for i := range f.chunks {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })

	var data []byte
	for _, i := range indexes {
		data = append(data, f.chunks[i]...)
	}
	sum := sha256.Sum256(data)
	if f.sha != "" && hex.EncodeToString(sum[:]) != f.sha {
		c.emit(&Event{eventType: EventError, sender: f.from,
			code: "BAD_FILE", detail: fmt.Sprintf("%s: hash mismatch", f.name)})
		return
	}
	c.emit(&Event{eventType: EventFile, sender: f.from, msg: data, fileName: f.name})
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func randomNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
