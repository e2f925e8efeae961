// Package mcpserver 以 MCP 工具的形式向大模型宿主暴露插件分发
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/ingest"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
	"github.com/lomehong/chatplot/pkg/plugin/registry"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// 工具名称
const (
	ToolListPlugins    = "list_plugins"
	ToolDispatchPlugin = "dispatch_plugin"
)

// Server MCP 服务器
type Server struct {
	name       string
	version    string
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	mcpServer  *server.MCPServer
	logger     hclog.Logger
}

// New 创建 MCP 服务器并注册工具
func New(name, version string, reg *registry.Registry, dispatcher *dispatch.Dispatcher, logger hclog.Logger) (*Server, error) {
	if reg == nil || dispatcher == nil {
		return nil, fmt.Errorf("MCP 服务器需要插件注册表与分发器")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := &Server{
		name:       name,
		version:    version,
		registry:   reg,
		dispatcher: dispatcher,
		logger:     logger.Named("mcp-server"),
	}

	s.mcpServer = server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	s.mcpServer.AddTool(listPluginsTool(), s.handleListPlugins)
	s.mcpServer.AddTool(dispatchPluginTool(), s.handleDispatchPlugin)
	return s, nil
}

// ServeStdio 通过标准输入输出提供服务，直到输入关闭
func (s *Server) ServeStdio() error {
	s.logger.Info("MCP 服务器已启动", "name", s.name, "version", s.version)
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP 服务失败: %w", err)
	}
	return nil
}

func categoryNames() []string {
	names := make([]string, 0, len(api.Categories()))
	for _, c := range api.Categories() {
		names = append(names, string(c))
	}
	return names
}

// listPluginsTool 列出插件的工具定义
func listPluginsTool() mcp.Tool {
	return mcp.NewTool(ToolListPlugins,
		mcp.WithDescription("列出已注册的数据分析插件及其状态、支持的操作和配置架构"),
		mcp.WithString("category",
			mcp.Description("仅列出该类别的插件"),
			mcp.Enum(categoryNames()...),
		),
	)
}

// dispatchPluginTool 分发插件操作的工具定义
func dispatchPluginTool() mcp.Tool {
	return mcp.NewTool(ToolDispatchPlugin,
		mcp.WithDescription("调用插件对数据执行操作：process、render、analyze、train 或 predict"),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("插件类别"),
			mcp.Enum(categoryNames()...),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("插件名称"),
		),
		mcp.WithString("operation",
			mcp.Required(),
			mcp.Description("操作名称，必须属于插件类别"),
		),
		mcp.WithString("data",
			mcp.Description("JSON 编码的数据：记录数组，或 {\"columns\": [...]} 形式的表格"),
		),
		mcp.WithString("options",
			mcp.Description("JSON 编码的操作选项对象"),
		),
	)
}

// arguments 取出工具调用参数
func arguments(request mcp.CallToolRequest) map[string]any {
	if args, ok := any(request.Params.Arguments).(map[string]any); ok {
		return args
	}
	return map[string]any{}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// rawArg 返回参数的 JSON 编码，字符串参数视为已编码的 JSON
func rawArg(args map[string]any, key string) ([]byte, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

// pluginInfo 工具返回的插件信息
type pluginInfo struct {
	api.PluginStatus
	Operations []api.Operation `json:"operations"`
}

func (s *Server) handleListPlugins(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	var filter api.Category
	if raw := stringArg(args, "category"); raw != "" {
		c, err := api.ParseCategory(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter = c
	}

	infos := []pluginInfo{}
	for _, k := range s.registry.Keys() {
		if filter != "" && k.Category != filter {
			continue
		}
		status, err := s.registry.Status(k.Category, k.Name)
		if err != nil {
			continue
		}
		infos = append(infos, pluginInfo{PluginStatus: status, Operations: api.Operations(k.Category)})
	}
	return jsonResult(infos)
}

func (s *Server) handleDispatchPlugin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	category, err := api.ParseCategory(stringArg(args, "category"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name := stringArg(args, "name")
	operation := stringArg(args, "operation")
	if name == "" || operation == "" {
		return mcp.NewToolResultError("name 与 operation 参数不能为空"), nil
	}

	rawData, err := rawArg(args, "data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := ingest.DecodePayload(rawData)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var options api.Options
	rawOptions, err := rawArg(args, "options")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(rawOptions) > 0 {
		if err := json.Unmarshal(rawOptions, &options); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("options 不是有效的JSON对象: %v", err)), nil
		}
	}

	res, err := s.dispatcher.DispatchResult(ctx, dispatch.Request{
		Category:  category,
		Name:      name,
		Operation: api.Operation(operation),
		Payload:   payload,
		Options:   options,
	})
	if err != nil {
		s.logger.Debug("工具调用失败", "name", name, "operation", operation, "kind", api.KindOf(err), "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", api.KindOf(err), err.Error())), nil
	}
	return jsonResult(map[string]any{
		"request_id": res.RequestID,
		"value":      res.Value,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("编码工具结果失败: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
