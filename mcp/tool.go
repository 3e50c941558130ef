package mcp

import (
	"context"

	"github.com/gaialab/gaia/tools"
)

// ProviderTool exposes one provider tool through the registry's Tool
// interface, under its namespaced <provider>_<tool> name.
type ProviderTool struct {
	client     *Client
	shortName  string
	descriptor ToolDescriptor
}

// Tools wraps each of the client's cached tools for registry registration.
func (c *Client) Tools() []tools.Tool {
	out := make([]tools.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, &ProviderTool{
			client:     c,
			shortName:  t.Name,
			descriptor: TranslateTool(c.Name, t),
		})
	}
	return out
}

func (t *ProviderTool) Name() string        { return t.descriptor.Name }
func (t *ProviderTool) Description() string { return t.descriptor.Description }

func (t *ProviderTool) Parameters() []tools.ParamSpec {
	params := make([]tools.ParamSpec, 0, len(t.descriptor.Params))
	for _, p := range t.descriptor.Params {
		params = append(params, tools.ParamSpec{
			Name:        p.Name,
			Type:        p.Type,
			Required:    p.Required,
			Description: p.Description,
		})
	}
	return params
}

func (t *ProviderTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	// The provider knows the tool by its short name.
	return t.client.CallTool(ctx, t.shortName, args)
}
