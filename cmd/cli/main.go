package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"civic-mesh/pkg/config"
)

const version = "civic-mesh cli 0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 返回进程退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stdout)
		return 0
	}
	cmd, args := args[0], args[1:]
	c := newClient(apiBaseURL())
	switch cmd {
	case "version":
		fmt.Fprintln(stdout, version)
	case "health":
		return runHealth(c, stdout, stderr)
	case "config":
		return runConfig(stdout, stderr)
	case "server":
		if len(args) > 0 && args[0] == "start" {
			return goRun(stderr, "./cmd/api", nil)
		}
		fmt.Fprintln(stderr, "Usage: civic server start")
		return 1
	case "agent":
		if len(args) > 1 && args[0] == "start" {
			return goRun(stderr, "./cmd/agent", []string{"CIVIC_AGENT_IDENTITY=" + args[1]})
		}
		fmt.Fprintln(stderr, "Usage: civic agent start <identity>")
		return 1
	case "workflow":
		return runWorkflow(c, args, stdout, stderr)
	case "custom":
		if len(args) < 1 {
			fmt.Fprintln(stderr, "Usage: civic custom <json|@file>")
			return 1
		}
		return runCustom(c, args[0], stdout, stderr)
	case "send":
		if len(args) < 2 {
			fmt.Fprintln(stderr, "Usage: civic send <agent> <query>")
			return 1
		}
		return runSend(c, args[0], strings.Join(args[1:], " "), stdout, stderr)
	default:
		printUsage(stdout)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: civic <command> [args]")
	fmt.Fprintln(w, "  version                          - 显示版本")
	fmt.Fprintln(w, "  health                           - 健康检查（agent 路由、进行中的工作流、依赖）")
	fmt.Fprintln(w, "  config                           - 显示配置概要")
	fmt.Fprintln(w, "  server start                     - 启动编排服务（go run ./cmd/api）")
	fmt.Fprintln(w, "  agent start <identity>           - 启动独立 agent 进程（go run ./cmd/agent）")
	fmt.Fprintln(w, "  workflow start <name> [json|@file|@bill.pdf] [--wait] - 启动工作流")
	fmt.Fprintln(w, "  workflow status <id>             - 查询工作流状态")
	fmt.Fprintln(w, "  custom <json|@file>              - 执行临时组合")
	fmt.Fprintln(w, "  send <agent> <query>             - 直接向 agent 发送查询")
}

func runHealth(c *client, stdout, stderr io.Writer) int {
	h, err := c.health()
	if err != nil {
		fmt.Fprintf(stderr, "健康检查失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, prettyJSON(h))
	if s, _ := h["status"].(string); s != "ok" {
		return 2
	}
	return 0
}

func runConfig(stdout, stderr io.Writer) int {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		fmt.Fprintf(stderr, "加载配置失败: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "api.port=%d\n", cfg.API.Port)
	fmt.Fprintf(stdout, "api.host=%s\n", cfg.API.Host)
	fmt.Fprintf(stdout, "agents.local=%s\n", strings.Join(cfg.Agents.Local, ","))
	for name, url := range cfg.Agents.Remote {
		fmt.Fprintf(stdout, "agents.remote.%s=%s\n", name, url)
	}
	fmt.Fprintf(stdout, "orchestrator.run_store=%s\n", cfg.Orchestrator.RunStore.Type)
	return 0
}

func goRun(stderr io.Writer, pkg string, env []string) int {
	c := exec.Command("go", "run", pkg)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Env = append(os.Environ(), env...)
	if err := c.Run(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", pkg, err)
		return 1
	}
	return 0
}

func runWorkflow(c *client, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Usage: civic workflow start <name> [json|@file] [--wait] | civic workflow status <id>")
		return 1
	}
	switch args[0] {
	case "start":
		name := args[1]
		wait := false
		var params map[string]interface{}
		var pdf []byte
		for _, a := range args[2:] {
			if a == "--wait" {
				wait = true
				continue
			}
			if strings.HasPrefix(a, "@") && strings.EqualFold(filepath.Ext(a), ".pdf") {
				b, err := os.ReadFile(strings.TrimPrefix(a, "@"))
				if err != nil {
					fmt.Fprintf(stderr, "读取 PDF 失败: %v\n", err)
					return 1
				}
				pdf = b
				continue
			}
			if err := parseJSONArg(a, &params); err != nil {
				fmt.Fprintf(stderr, "参数解析失败: %v\n", err)
				return 1
			}
		}
		var id string
		var err error
		if pdf != nil {
			id, err = c.startWorkflowPDF(name, pdf, stringParams(params))
		} else {
			id, err = c.startWorkflow(name, params)
		}
		if err != nil {
			fmt.Fprintf(stderr, "启动工作流失败: %v\n", err)
			return 1
		}
		if !wait {
			fmt.Fprintln(stdout, id)
			return 0
		}
		st, err := c.waitWorkflow(id, 500*time.Millisecond, 5*time.Minute)
		if err != nil {
			fmt.Fprintf(stderr, "等待工作流失败: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, prettyJSON(st))
	case "status":
		st, err := c.workflowStatus(args[1])
		if err != nil {
			fmt.Fprintf(stderr, "查询失败: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, prettyJSON(st))
	default:
		fmt.Fprintf(stderr, "未知子命令: %s\n", args[0])
		return 1
	}
	return 0
}

func runCustom(c *client, arg string, stdout, stderr io.Writer) int {
	var body map[string]interface{}
	if err := parseJSONArg(arg, &body); err != nil {
		fmt.Fprintf(stderr, "参数解析失败: %v\n", err)
		return 1
	}
	out, err := c.custom(body)
	if err != nil {
		fmt.Fprintf(stderr, "执行失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, prettyJSON(out))
	return 0
}

func runSend(c *client, agent, query string, stdout, stderr io.Writer) int {
	reply, err := c.send(agent, query)
	if err != nil {
		fmt.Fprintf(stderr, "发送失败: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s from %s\n", reply.Kind, reply.Sender)
	fmt.Fprintln(stdout, prettyJSON(reply.Payload))
	return 0
}

// stringParams PDF 上传时 JSON 参数转为 query
func stringParams(params map[string]interface{}) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// parseJSONArg 以 @ 开头时读取文件
func parseJSONArg(arg string, v interface{}) error {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return err
		}
		data = b
	}
	return json.Unmarshal(data, v)
}
