package respproc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseXMLToolCalls_ScalarAndObjectParams(t *testing.T) {
	text := `Let me search.
<function_calls>
<invoke name="web_search">
<parameter name="query">foo bar</parameter>
<parameter name="max_results">5</parameter>
<parameter name="verbose">true</parameter>
<parameter name="filters">{"lang": "en", "tags": ["a", "b"]}</parameter>
</invoke>
</function_calls>`

	calls := ParseXMLToolCalls(text)
	require.Len(t, calls, 1)
	require.Equal(t, "web_search", calls[0].Name)

	var args map[string]any
	require.NoError(t, json.Unmarshal(calls[0].Args, &args))
	require.Equal(t, "foo bar", args["query"])
	require.Equal(t, float64(5), args["max_results"])
	require.Equal(t, true, args["verbose"])
	filters, ok := args["filters"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "en", filters["lang"])
}

func TestParseXMLToolCalls_MultipleInvokes(t *testing.T) {
	text := `<function_calls>
<invoke name="a"><parameter name="x">1</parameter></invoke>
<invoke name="b"><parameter name="y">2</parameter></invoke>
</function_calls>`
	calls := ParseXMLToolCalls(text)
	require.Len(t, calls, 2)
	require.Equal(t, "a", calls[0].Name)
	require.Equal(t, "b", calls[1].Name)
}

func TestParseXMLToolCalls_NoBlock(t *testing.T) {
	calls := ParseXMLToolCalls("just plain text, no tool calls here")
	require.Empty(t, calls)
}

func TestDecodeParameterValue_Booleans(t *testing.T) {
	require.Equal(t, true, decodeParameterValue("true"))
	require.Equal(t, false, decodeParameterValue("false"))
	require.Equal(t, "truefoo", decodeParameterValue("truefoo"))
}
