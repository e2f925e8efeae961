package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/lomehong/chatplot/pkg/core"
	"github.com/lomehong/chatplot/pkg/logging"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
	"github.com/lomehong/chatplot/pkg/plugins"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli 命令行共享状态
type cli struct {
	cfgFile string
	viper   *viper.Viper
}

// newRootCmd 创建根命令
func newRootCmd() *cobra.Command {
	c := &cli{viper: core.NewViper()}

	root := &cobra.Command{
		Use:   "chatplot",
		Short: "对话式数据分析插件框架",
		Long: `ChatPlot 插件框架：注册、配置并调用数据处理、可视化、分析与模型插件，
通过 HTTP/WebSocket 控制台或 MCP 工具向对话界面提供服务。`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "配置文件路径 (默认查找 ./chatplot.yaml)")
	flags.String("log-level", "", "日志级别: trace, debug, info, warn, error")
	flags.String("plugin-dir", "", "插件描述文件目录")
	c.viper.BindPFlag("log.level", flags.Lookup("log-level"))
	c.viper.BindPFlag("plugins.dir", flags.Lookup("plugin-dir"))

	root.AddCommand(newVersionCmd())
	root.AddCommand(c.newPluginCmd())
	root.AddCommand(c.newServeCmd())
	root.AddCommand(c.newMCPCmd())
	return root
}

// loadApp 读取配置并创建应用程序
func (c *cli) loadApp(configure func(*core.AppConfig)) (*core.App, error) {
	config, err := core.LoadConfig(c.viper, c.cfgFile)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(config)
	}
	return core.NewApp(config, core.WithCatalog(plugins.Builtins()), core.WithVersion(version))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatplot %s\n", version)
		},
	}
}

func (c *cli) newPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "插件管理",
	}
	cmd.AddCommand(c.newPluginListCmd())
	cmd.AddCommand(c.newPluginRunCmd())
	return cmd
}

// offline 命令行工具不启动Web控制台，也不监视配置文件
func offline(config *core.AppConfig) {
	config.EnableWebConsole = false
	config.Plugins.WatchOverrides = false
}

func (c *cli) newPluginListCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出所有插件及其状态",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter api.Category
			if category != "" {
				parsed, err := api.ParseCategory(category)
				if err != nil {
					return err
				}
				filter = parsed
			}

			app, err := c.loadApp(offline)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if err := app.Init(ctx); err != nil {
				return err
			}
			defer app.Stop(ctx)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tNAME\tVERSION\tSTATE\tDESCRIPTION")
			for _, k := range app.Registry().Keys() {
				if filter != "" && k.Category != filter {
					continue
				}
				status, err := app.Registry().Status(k.Category, k.Name)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					k.Category, k.Name, status.Metadata.Version, status.State, status.Metadata.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "仅列出该类别的插件")
	return cmd
}

func (c *cli) newPluginRunCmd() *cobra.Command {
	var (
		dataFile string
		options  string
		trainOn  string
	)

	cmd := &cobra.Command{
		Use:   "run <category> <name> <operation>",
		Short: "对数据文件调用插件操作并输出JSON结果",
		Example: `  chatplot plugin run data_processor time_series_processor process \
    --data sales.csv --options '{"date_column": "date", "value_column": "revenue"}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := api.ParseCategory(args[0])
			if err != nil {
				return err
			}

			var opts api.Options
			if strings.TrimSpace(options) != "" {
				if err := json.Unmarshal([]byte(options), &opts); err != nil {
					return fmt.Errorf("--options 不是有效的JSON对象: %w", err)
				}
			}

			app, err := c.loadApp(offline)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if err := app.Init(ctx); err != nil {
				return err
			}
			defer app.Stop(ctx)

			var payload any
			if dataFile != "" {
				table, err := app.Reader().ReadFile(dataFile)
				if err != nil {
					return err
				}
				payload = table
			}

			// 模型插件在同一进程内先训练再预测
			if trainOn != "" {
				table, err := app.Reader().ReadFile(trainOn)
				if err != nil {
					return err
				}
				if _, err := app.Dispatcher().Dispatch(ctx, dispatch.Request{
					Category:  category,
					Name:      args[1],
					Operation: api.OperationTrain,
					Payload:   table,
					Options:   opts,
				}); err != nil {
					return err
				}
			}

			value, err := app.Dispatcher().Dispatch(ctx, dispatch.Request{
				Category:  category,
				Name:      args[1],
				Operation: api.Operation(args[2]),
				Payload:   payload,
				Options:   opts,
			})
			if err != nil {
				return fmt.Errorf("[%s] %w", api.KindOf(err), err)
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(value)
		},
	}
	cmd.Flags().StringVar(&dataFile, "data", "", "CSV 或 JSON 数据文件")
	cmd.Flags().StringVar(&options, "options", "", "JSON 编码的操作选项")
	cmd.Flags().StringVar(&trainOn, "train", "", "调用前先用该数据文件训练模型")
	return cmd
}

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动Web控制台与聊天会话服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(func(config *core.AppConfig) {
				config.EnableWebConsole = true
			})
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.Init(ctx); err != nil {
				return err
			}
			if err := app.Start(ctx); err != nil {
				app.Stop(context.Background())
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Web控制台已启动: %s，按 Ctrl+C 优雅终止\n", app.Console().Addr())

			<-ctx.Done()
			return app.Stop(context.Background())
		},
	}
}

func (c *cli) newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "以 MCP 工具服务器的形式在标准输入输出上提供插件",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.loadApp(func(config *core.AppConfig) {
				offline(config)
				// 标准输出用于协议通信
				if config.Log.Output == logging.LogOutputStdout {
					config.Log.Output = logging.LogOutputStderr
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if err := app.Init(ctx); err != nil {
				return err
			}
			defer app.Stop(context.Background())

			server, err := app.MCPServer()
			if err != nil {
				return err
			}
			return server.ServeStdio()
		},
	}
}
