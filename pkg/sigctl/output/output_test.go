package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type result struct {
	Valid bool   `json:"valid" yaml:"valid"`
	Name  string `json:"name" yaml:"name"`
}

func (r result) String() string {
	return "valid: " + r.Name
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "json": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("table")
	assert.Error(t, err)
}

func TestWriteObject(t *testing.T) {
	obj := result{Valid: true, Name: "Ana"}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteObject(&buf, FormatJSON, obj))

		var decoded result
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, obj, decoded)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteObject(&buf, FormatYAML, obj))

		var decoded result
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, obj, decoded)
	})

	t.Run("text uses Stringer", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteObject(&buf, FormatText, obj))
		assert.Equal(t, "valid: Ana\n", buf.String())
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, WriteObject(&bytes.Buffer{}, Format("xml"), obj))
	})
}
