// Copyright 2026 MissionBay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command agentflow runs declarative agent flows: one-shot from the CLI or
// behind the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/missionbay/agentflow"
	"github.com/missionbay/agentflow/pkg/component"
	"github.com/missionbay/agentflow/pkg/config"
	"github.com/missionbay/agentflow/pkg/eventstream"
	"github.com/missionbay/agentflow/pkg/flow"
	"github.com/missionbay/agentflow/pkg/logger"
	"github.com/missionbay/agentflow/pkg/observability"
	"github.com/missionbay/agentflow/pkg/server"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Run      RunCmd      `cmd:"" help:"Execute one flow document and print its outputs."`
	Serve    ServeCmd    `cmd:"" help:"Serve flows over HTTP."`
	Validate ValidateCmd `cmd:"" help:"Validate a flow document."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON schema of flow documents."`

	Config    string `short:"c" help:"Path to the global config file (backs mode=config values)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text or json)." default:"text"`
	Trace     bool   `help:"Enable stdout trace exporting."`
}

func (c *CLI) manager() (*component.Manager, error) {
	global := map[string]any{}
	if c.Config != "" {
		data, err := os.ReadFile(c.Config)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &global); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return component.NewManager(component.WithGlobalConfig(global)), nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Println(agentflow.GetVersion())
	return nil
}

// RunCmd executes a single flow document to completion.
type RunCmd struct {
	Flow   string            `arg:"" help:"Path to the flow document." type:"path"`
	Inputs map[string]string `short:"i" help:"Runtime inputs as key=value pairs."`
}

func (c *RunCmd) Run(cli *CLI) error {
	manager, err := cli.manager()
	if err != nil {
		return err
	}
	doc, err := config.LoadDocument(c.Flow)
	if err != nil {
		return err
	}
	f, err := manager.BuildFlow(doc)
	if err != nil {
		return err
	}

	inputs := make(map[string]any, len(c.Inputs))
	for k, v := range c.Inputs {
		inputs[k] = v
	}

	buffer := eventstream.NewBuffer()
	fc := flow.NewContext(nil, buffer)

	outputs, err := f.Run(signalContext(), fc, inputs)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"outputs": outputs,
		"events":  buffer.Events(),
	})
}

// ServeCmd hosts flows over HTTP.
type ServeCmd struct {
	Flows string `arg:"" help:"Directory of flow documents to serve." type:"path"`
	Addr  string `short:"a" help:"Listen address." default:":8080"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	manager, err := cli.manager()
	if err != nil {
		return err
	}
	srv := server.New(manager, nil)
	if err := srv.LoadDirectory(c.Flows); err != nil {
		return err
	}
	return srv.ListenAndServe(signalContext(), c.Addr)
}

// ValidateCmd checks a flow document without running it.
type ValidateCmd struct {
	Flow string `arg:"" help:"Path to the flow document." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	manager, err := cli.manager()
	if err != nil {
		return err
	}
	doc, err := config.LoadDocument(c.Flow)
	if err != nil {
		return err
	}
	if _, err := manager.BuildFlow(doc); err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d nodes, %d resources, %d connections)\n",
		c.Flow, len(doc.Nodes), len(doc.Resources), len(doc.Connections))
	return nil
}

// SchemaCmd emits the flow document JSON schema for editors and builders.
type SchemaCmd struct{}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&config.FlowDocument{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}

func main() {
	config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentflow"),
		kong.Description("Declarative agent flow runtime."),
		kong.UsageOnError(),
	)

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)

	if cli.Trace {
		shutdown, err := observability.InitTracing(false)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
