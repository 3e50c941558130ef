package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gaialab/gaia/errors"
	"github.com/gaialab/gaia/logging"
)

// clientInfo is the identity sent in the handshake.
var clientInfo = Implementation{Name: "gaia", Version: "0.1.0"}

// ConnectError reports a provider that could not be brought up: the spawn
// failed, the process died instantly, or the handshake was rejected.
type ConnectError struct {
	Provider string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect provider %q: %v", e.Provider, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Client is one logical connection to a tool provider. It owns the
// transport, performs the handshake, and caches the provider's tool listing.
type Client struct {
	Name string

	transport  Transport
	serverInfo Implementation
	tools      []ToolInfo
	listed     bool
	connected  bool
}

// NewClient wraps a transport. Connect must be called before use.
func NewClient(name string, transport Transport) *Client {
	return &Client{Name: name, transport: transport}
}

// ServerInfo returns the provider's self-reported identity, valid after
// Connect.
func (c *Client) ServerInfo() Implementation { return c.serverInfo }

// Connect opens the transport and performs the initialize handshake. All
// failure modes come back as a *ConnectError rather than panicking or
// leaving a half-open transport behind.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	if err := c.transport.Connect(); err != nil {
		return &ConnectError{Provider: c.Name, Err: err}
	}

	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      clientInfo,
		Capabilities:    map[string]any{"tools": map[string]any{}},
	}
	resp, err := c.transport.SendRequest(ctx, MethodInitialize, params)
	if err != nil {
		c.transport.Disconnect()
		return &ConnectError{Provider: c.Name, Err: err}
	}
	if resp.Error != nil {
		c.transport.Disconnect()
		return &ConnectError{Provider: c.Name, Err: errors.New("handshake rejected: %s", resp.Error.Message)}
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		c.transport.Disconnect()
		return &ConnectError{Provider: c.Name, Err: errors.Wrapf(err, "malformed handshake response")}
	}

	c.serverInfo = result.ServerInfo
	c.connected = true
	logging.Component("mcp").Debug().
		Str("provider", c.Name).
		Str("server", result.ServerInfo.Name).
		Str("protocol", result.ProtocolVersion).
		Msg("provider connected")
	return nil
}

// ListTools returns the provider's tools. The listing is fetched once and
// cached; pass refresh to force a new tools/list exchange.
func (c *Client) ListTools(ctx context.Context, refresh bool) ([]ToolInfo, error) {
	if !c.connected {
		return nil, errors.New("provider %q not connected", c.Name)
	}
	if c.listed && !refresh {
		return c.tools, nil
	}

	resp, err := c.transport.SendRequest(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "tools/list failed for provider %q", c.Name)
	}
	if resp.Error != nil {
		return nil, errors.New("tools/list error from provider %q: %s", c.Name, resp.Error.Message)
	}

	var result ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, errors.Wrapf(err, "malformed tools/list response from provider %q", c.Name)
	}

	c.tools = result.Tools
	c.listed = true
	return c.tools, nil
}

// CallTool invokes one provider tool. An invalid-params error (-32602) is
// rewritten to show the tool's full schema next to the arguments actually
// sent, which is what the model needs to correct itself; every other
// provider error passes through unmodified.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if !c.connected {
		return "", errors.New("provider %q not connected", c.Name)
	}

	resp, err := c.transport.SendRequest(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		if resp.Error.Code == CodeInvalidParams {
			return "", errors.New("%s", c.invalidParamsDetail(name, args, resp.Error))
		}
		return "", errors.New("tool %q failed on provider %q: %s", name, c.Name, resp.Error.Message)
	}

	var result CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", errors.Wrapf(err, "malformed tools/call response from provider %q", c.Name)
	}
	if result.IsError {
		return "", errors.New("tool %q reported an error: %s", name, result.Text())
	}
	return result.Text(), nil
}

// invalidParamsDetail builds the enhanced -32602 message: provider message,
// expected schema, actual arguments.
func (c *Client) invalidParamsDetail(name string, args map[string]any, rpcErr *RPCError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid parameters for tool %q: %s", name, rpcErr.Message)

	for _, t := range c.tools {
		if t.Name != name {
			continue
		}
		schema, err := json.Marshal(t.InputSchema)
		if err == nil {
			fmt.Fprintf(&b, "\nexpected schema: %s", schema)
		}
		break
	}

	actual, err := json.Marshal(args)
	if err == nil {
		fmt.Fprintf(&b, "\narguments sent: %s", actual)
	}
	return b.String()
}

// Disconnect tears down the transport.
func (c *Client) Disconnect() error {
	c.connected = false
	return c.transport.Disconnect()
}

// ToolDescriptor is the agent-internal view of one provider tool, in the
// registry's descriptor shape.
type ToolDescriptor struct {
	Name        string
	Description string
	Params      []DescriptorParam
}

// DescriptorParam is one translated parameter.
type DescriptorParam struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Descriptors translates the cached provider schemas into the agent's
// descriptor format: the provider name is prepended to each tool name and
// the schema's required-names array becomes a per-parameter flag. The
// translation is pure; callers may cache the result.
func (c *Client) Descriptors() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, TranslateTool(c.Name, t))
	}
	return out
}

// TranslateTool converts one provider tool schema to a descriptor.
func TranslateTool(provider string, t ToolInfo) ToolDescriptor {
	required := make(map[string]bool, len(t.InputSchema.Required))
	for _, name := range t.InputSchema.Required {
		required[name] = true
	}

	params := make([]DescriptorParam, 0, len(t.InputSchema.Properties))
	for name, prop := range t.InputSchema.Properties {
		typ := prop.Type
		if typ == "" {
			typ = "string"
		}
		params = append(params, DescriptorParam{
			Name:        name,
			Type:        typ,
			Required:    required[name],
			Description: prop.Description,
		})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })

	return ToolDescriptor{
		Name:        provider + "_" + t.Name,
		Description: t.Description,
		Params:      params,
	}
}
