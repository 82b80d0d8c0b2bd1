package mcpclient

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NoResult is the text of a tool result without content.
const NoResult = "No result"

// ResultText is the text an agent sees for a tool result: the first text
// block, else the structured content as JSON.
func ResultText(res *mcp.CallToolResult) string {
	if res == nil {
		return NoResult
	}
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	if res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			return string(data)
		}
	}
	return NoResult
}
