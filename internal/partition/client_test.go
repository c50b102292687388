package partition

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicd/internal/document"
)

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{URL: "http://localhost"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.unstructuredapp.io", "https://api.unstructuredapp.io/general/v0/general"},
		{"https://api.unstructuredapp.io/", "https://api.unstructuredapp.io/general/v0/general"},
		{"https://api.unstructured.io/general/v0/general", "https://api.unstructured.io/general/v0/general"},
		{"https://platform.unstructuredapp.io/api/v1", "https://platform.unstructuredapp.io/api/v1"},
		{"http://localhost:8000/partition/", "http://localhost:8000/partition"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			assert.Equal(t, tt.want, Endpoint(tt.base))
		})
	}
}

func TestClient_Partition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("unstructured-api-key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hi_res", r.FormValue("strategy"))
		assert.Equal(t, "yolox", r.FormValue("hi_res_model_name"))

		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "note.pdf", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "%PDF-1.7 fake", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type": "Title", "element_id": "a1", "text": "ALLERGIES", "metadata": {"page_number": 1}},
			{"element_type": "NarrativeText", "text": "No known allergies."}
		]`))
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, APIKey: "test-key"}, nil)
	require.NoError(t, err)
	defer client.Close()

	elements, err := client.Partition(context.Background(), "note.pdf", strings.NewReader("%PDF-1.7 fake"))
	require.NoError(t, err)
	require.Len(t, elements, 2)

	assert.Equal(t, document.ElementType("Title"), elements[0].Type)
	assert.Equal(t, "a1", elements[0].ID)
	assert.Equal(t, float64(1), elements[0].Metadata["page_number"])
	assert.Equal(t, document.ElementType("NarrativeText"), elements[1].Type)
	assert.Equal(t, 1, elements[1].Index)
}

func TestClient_PartitionAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail": "File type not supported"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, APIKey: "k"}, nil)
	require.NoError(t, err)

	_, err = client.Partition(context.Background(), "x.txt", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(422)")
	assert.Contains(t, err.Error(), "File type not supported")
}

func TestClient_PartitionInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, APIKey: "k"}, nil)
	require.NoError(t, err)

	_, err = client.Partition(context.Background(), "x.pdf", strings.NewReader("x"))
	assert.ErrorContains(t, err, "decode elements")
}

func TestReadElements(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"array", `[{"type": "Title", "text": "A"}, {"type": "ListItem", "text": "B"}]`, 2},
		{"wrapped", `{"filename": "x", "element_count": 1, "elements": [{"type": "Title", "text": "A"}]}`, 1},
		{"empty array", `[]`, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elements, err := ReadElements(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.NotNil(t, elements)
			assert.Len(t, elements, tt.want)
		})
	}
}

func TestReadElements_Invalid(t *testing.T) {
	for _, input := range []string{`{"other": []}`, `{"elements": {}}`, `[1, 2]`, `garbage`} {
		_, err := ReadElements(strings.NewReader(input))
		assert.Error(t, err, input)
	}
}

func TestLoadElements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type": "Title", "text": "ASSESSMENT"}]`), 0o600))

	elements, err := LoadElements(path)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "ASSESSMENT", elements[0].Text)

	_, err = LoadElements(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
