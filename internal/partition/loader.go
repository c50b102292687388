package partition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/clinicd/internal/document"
)

// maxElementsFileSize bounds element files read from disk.
const maxElementsFileSize = 64 << 20

// LoadElements reads a pre-partitioned element file. Both a bare JSON array
// and an object with an "elements" array are accepted.
func LoadElements(path string) ([]document.Element, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elements: %w", err)
	}
	defer f.Close()

	return ReadElements(f)
}

// ReadElements decodes elements in either accepted layout from r.
func ReadElements(r io.Reader) ([]document.Element, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxElementsFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read elements: %w", err)
	}
	if len(data) > maxElementsFileSize {
		return nil, fmt.Errorf("elements file too large (max %d bytes)", maxElementsFileSize)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Elements json.RawMessage `json:"elements"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode elements: %w", err)
		}
		if wrapped.Elements == nil {
			return nil, fmt.Errorf("decode elements: object has no \"elements\" key")
		}
		trimmed = wrapped.Elements
	}

	elements, err := document.DecodeElements(bytes.NewReader(trimmed))
	if err != nil {
		return nil, err
	}
	if elements == nil {
		elements = []document.Element{}
	}
	return elements, nil
}
