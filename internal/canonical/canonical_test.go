package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMarshal_SortsKeysAtEveryLevel(t *testing.T) {
	in := map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "y": nil},
		"c": []any{map[string]any{"k2": "v", "k1": "<&>"}},
	}
	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":null,"z":true},"b":1,"c":[{"k1":"<&>","k2":"v"}]}`, string(out))
}

func TestMarshal_StructTagsDecideFields(t *testing.T) {
	type doc struct {
		Zeta  string `json:"zeta"`
		Alpha string `json:"alpha"`
		Skip  string `json:"-"`
	}
	out, err := Marshal(doc{Zeta: "z", Alpha: "a", Skip: "s"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","zeta":"z"}`, string(out))
}

func TestMarshalWithout_DropsMember(t *testing.T) {
	out, err := MarshalWithout(map[string]any{"proof": "x", "id": "1"}, "proof")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(out))

	_, err = MarshalWithout([]int{1}, "proof")
	assert.Error(t, err)
}

func TestMarshal_NumbersUseECMAScriptForm(t *testing.T) {
	out, err := Marshal(map[string]any{"a": 2.50, "b": int64(10), "c": json.Number("1.0")})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2.5,"b":10,"c":1}`, string(out))
}

func TestMarshal_SortsKeysByUTF16CodeUnits(t *testing.T) {
	out, err := Marshal(map[string]any{"s": "a\u2028b", "\ufb2b": 2, "\U0001F600": 1})
	require.NoError(t, err)
	// U+1F600 encodes as the surrogate pair D83D DE00, which sorts before U+FB2B.
	assert.Equal(t, "{\"s\":\"a\u2028b\",\"\U0001F600\":1,\"\ufb2b\":2}", string(out))
}

func TestMarshal_InsertionOrderIrrelevant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := rapid.MapOf(rapid.String(), rapid.String()).Draw(t, "m")
		first, err := Marshal(m)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		copied := make(map[string]string, len(m))
		for k, v := range m {
			copied[k] = v
		}
		second, err := Marshal(copied)
		if err != nil {
			t.Fatalf("marshal copy: %v", err)
		}
		if string(first) != string(second) {
			t.Fatalf("non-deterministic output: %s vs %s", first, second)
		}
	})
}
