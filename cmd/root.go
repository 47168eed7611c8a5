// Copyright 2025 IBM Corp.
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

package cmd

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ibmi-community/db2i-mcp-server/internal/log"
	"github.com/ibmi-community/db2i-mcp-server/internal/prebuiltconfigs"
	"github.com/ibmi-community/db2i-mcp-server/internal/server"
	"github.com/ibmi-community/db2i-mcp-server/internal/telemetry"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"

	// Import tool and source kinds so their init() registration runs.
	_ "github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
	_ "github.com/ibmi-community/db2i-mcp-server/internal/tools/db2idescribe"
	_ "github.com/ibmi-community/db2i-mcp-server/internal/tools/db2iexecutesql"
	_ "github.com/ibmi-community/db2i-mcp-server/internal/tools/db2isql"
)

var (
	// versionString is the full semantic version reported by --version and the
	// MCP initialize handshake.
	versionString string
	// versionNum is the numerical part of the version.
	//go:embed version.txt
	versionNum string
	// buildType is the release type, overridden at build time.
	buildType = "dev"
	// commitSha is the build commit, set at build time.
	commitSha string
)

func init() {
	versionString = semanticVersion()
}

func semanticVersion() string {
	v := strings.TrimSpace(versionNum)
	metadata := buildType
	if commitSha != "" {
		metadata += "." + commitSha
	}
	return v + "+" + metadata
}

// Execute runs the root command and exits nonzero on any failure.
func Execute() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// Command is the root db2i-mcp-server command.
type Command struct {
	*cobra.Command

	cfg    server.ServerConfig
	logger log.Logger

	toolsPaths   []string
	prebuilt     string
	transport    string
	listToolsets bool

	inStream             io.Reader
	outStream, errStream io.Writer
}

// NewCommand builds the root command with its flag set.
func NewCommand(opts ...Option) *Command {
	cmd := &Command{
		Command: &cobra.Command{
			Use:     "db2i-mcp-server",
			Version: versionString,
			Short:   "MCP server exposing Db2 for i tools",
			Long:    "db2i-mcp-server serves configured SQL tools over the Model Context Protocol, against Db2 for i through the database host servers.",
			// Errors are reported through the logger or errStream.
			SilenceUsage:  true,
			SilenceErrors: true,
		},
		inStream:  os.Stdin,
		outStream: os.Stdout,
		errStream: os.Stderr,
	}

	for _, opt := range opts {
		opt(cmd)
	}
	cmd.SetIn(cmd.inStream)
	cmd.SetOut(cmd.outStream)
	cmd.SetErr(cmd.errStream)

	cmd.cfg.Version = versionString
	// Config selection flags are persistent so the invoke subcommand shares them.
	pflags := cmd.PersistentFlags()
	pflags.StringSliceVar(&cmd.toolsPaths, "tools", nil, "File or directory with the tools YAML configuration. Repeatable; a directory loads every .yaml file inside. Defaults to $TOOLS_YAML_PATH.")
	pflags.StringVar(&cmd.prebuilt, "prebuilt", "", fmt.Sprintf("Use an embedded tools configuration instead of --tools. One of: %s.", strings.Join(prebuiltconfigs.List(), ", ")))

	flags := cmd.Flags()
	flags.StringVar(&cmd.transport, "transport", "", `Protocol transport: "stdio" or "http". Defaults to $MCP_TRANSPORT_TYPE, then "http".`)
	flags.StringSliceVar(&cmd.cfg.ToolsetFilter, "toolsets", nil, "Only register tools belonging to these toolsets.")
	flags.BoolVar(&cmd.listToolsets, "list-toolsets", false, "Print the toolsets in the configuration and exit.")
	flags.StringVarP(&cmd.cfg.Address, "address", "a", "127.0.0.1", "Address of the interface the HTTP server listens on.")
	flags.IntVarP(&cmd.cfg.Port, "port", "p", 5000, "Port the HTTP server listens on.")
	flags.Var(&cmd.cfg.LoggingFormat, "logging-format", `Logging format, must be one of "standard" or "json".`)
	flags.Var(&cmd.cfg.LogLevel, "log-level", `Log level, must be one of "debug", "info", "warn", or "error". Defaults to $MCP_LOG_LEVEL.`)
	flags.StringVar(&cmd.cfg.TelemetryOTLP, "telemetry-otlp", "", "Export telemetry to an OTLP collector at this gRPC-less HTTP endpoint (e.g. http://127.0.0.1:4318).")
	flags.StringVar(&cmd.cfg.TelemetryServiceName, "telemetry-service-name", "db2i-mcp-server", "Value of the service.name telemetry resource attribute.")
	flags.BoolVar(&cmd.cfg.DisableReload, "disable-reload", false, "Disable hot reloading of the tools configuration files.")

	cmd.AddCommand(newInvokeCmd(cmd))

	cmd.RunE = func(*cobra.Command, []string) error {
		return run(cmd)
	}
	return cmd
}

// Option configures a Command, primarily for tests.
type Option func(*Command)

// WithStreams redirects the command's stdin, stdout, and stderr.
func WithStreams(in io.Reader, out, err io.Writer) Option {
	return func(c *Command) {
		c.inStream = in
		c.outStream = out
		c.errStream = err
	}
}

// mcpLogLevels maps MCP's syslog-style level names onto the four levels the
// logger supports.
var mcpLogLevels = map[string]string{
	"debug": "debug",
	"info":  "info", "notice": "info",
	"warning": "warn", "warn": "warn",
	"error": "error", "crit": "error", "alert": "error", "emerg": "error",
}

// resolveLogLevel applies the MCP_LOG_LEVEL fallback when the flag was not
// given explicitly.
func resolveLogLevel(cmd *Command) error {
	if cmd.Flags().Changed("log-level") {
		return nil
	}
	raw := os.Getenv("MCP_LOG_LEVEL")
	if raw == "" {
		return nil
	}
	mapped, ok := mcpLogLevels[strings.ToLower(raw)]
	if !ok {
		return fmt.Errorf("invalid MCP_LOG_LEVEL %q", raw)
	}
	return cmd.cfg.LogLevel.Set(mapped)
}

// resolveTransport decides between stdio and HTTP from the flag, then the
// MCP_TRANSPORT_TYPE environment variable.
func resolveTransport(cmd *Command) error {
	t := cmd.transport
	if t == "" {
		t = os.Getenv("MCP_TRANSPORT_TYPE")
	}
	switch strings.ToLower(t) {
	case "", "http":
		cmd.cfg.Stdio = false
	case "stdio":
		cmd.cfg.Stdio = true
	default:
		return fmt.Errorf(`transport must be "stdio" or "http", got %q`, t)
	}
	return nil
}

// resolveToolsPaths expands the --tools entries: directories contribute every
// .yaml/.yml file inside, sorted. With neither --tools nor --prebuilt given,
// TOOLS_YAML_PATH is consulted.
func resolveToolsPaths(specs []string) ([]string, error) {
	if len(specs) == 0 {
		if env := os.Getenv("TOOLS_YAML_PATH"); env != "" {
			specs = strings.Split(env, ",")
		} else {
			specs = []string{"tools.yaml"}
		}
	}
	var paths []string
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		info, err := os.Stat(spec)
		if err != nil {
			return nil, fmt.Errorf("unable to read tools config %q: %w", spec, err)
		}
		if !info.IsDir() {
			paths = append(paths, spec)
			continue
		}
		entries, err := os.ReadDir(spec)
		if err != nil {
			return nil, fmt.Errorf("unable to read tools config directory %q: %w", spec, err)
		}
		var inDir []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
				inDir = append(inDir, filepath.Join(spec, e.Name()))
			}
		}
		sort.Strings(inDir)
		paths = append(paths, inDir...)
	}
	return paths, nil
}

// loggerWriters picks where log output goes. Stdio transport keeps stdout
// clean for the protocol, so logs go to LOGS_PATH when set, stderr otherwise.
func loggerWriters(cmd *Command) (io.Writer, io.Writer, error) {
	if dir := os.Getenv("LOGS_PATH"); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("unable to create LOGS_PATH %q: %w", dir, err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "db2i-mcp-server.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open log file: %w", err)
		}
		return f, f, nil
	}
	if cmd.cfg.Stdio {
		return cmd.errStream, cmd.errStream, nil
	}
	return cmd.outStream, cmd.errStream, nil
}

// loadConfigs parses either the prebuilt config or the resolved files.
func loadConfigs(ctx context.Context, cmd *Command) (*server.ParsingResult, []string, error) {
	if cmd.prebuilt != "" {
		raw, err := prebuiltconfigs.Get(cmd.prebuilt)
		if err != nil {
			return nil, nil, err
		}
		res := server.UnmarshalResourceConfig(ctx, raw)
		return res, nil, res.Err()
	}
	paths, err := resolveToolsPaths(cmd.toolsPaths)
	if err != nil {
		return nil, nil, err
	}
	res := server.LoadResourceConfigs(ctx, paths)
	return res, paths, res.Err()
}

func applyParsed(cfg *server.ServerConfig, res *server.ParsingResult) {
	cfg.SourceConfigs = res.Sources
	cfg.ToolConfigs = res.Tools
	cfg.ToolsetConfigs = res.Toolsets
	cfg.GlobalTools = res.GlobalTools
}

func printToolsets(cmd *Command, res *server.ParsingResult) {
	names := make([]string, 0, len(res.Toolsets))
	for name := range res.Toolsets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ts := res.Toolsets[name]
		fmt.Fprintf(cmd.outStream, "%s\t%d tools\t%s\n", name, len(ts.Tools), ts.Description)
	}
}

func run(cmd *Command) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := resolveTransport(cmd); err != nil {
		fmt.Fprintln(cmd.errStream, err)
		return err
	}
	if err := resolveLogLevel(cmd); err != nil {
		fmt.Fprintln(cmd.errStream, err)
		return err
	}

	out, errOut, err := loggerWriters(cmd)
	if err != nil {
		fmt.Fprintln(cmd.errStream, err)
		return err
	}
	cmd.logger, err = log.NewLogger(cmd.cfg.LoggingFormat.String(), cmd.cfg.LogLevel.String(), out, errOut)
	if err != nil {
		fmt.Fprintln(cmd.errStream, err)
		return err
	}
	ctx = util.WithLogger(ctx, cmd.logger)
	ctx = util.WithUserAgent(ctx, versionString)

	// Without a collector endpoint the exporters write to stdout, which the
	// stdio transport owns, so telemetry export stays off unless asked for.
	if cmd.cfg.TelemetryOTLP != "" {
		shutdown, err := telemetry.SetupOTel(ctx, versionString, cmd.cfg.TelemetryOTLP, cmd.cfg.TelemetryServiceName)
		if err != nil {
			cmd.logger.ErrorContext(ctx, "error setting up telemetry", "error", err)
			return err
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				cmd.logger.ErrorContext(ctx, "error shutting down telemetry", "error", err)
			}
		}()
	}
	instrumentation, err := telemetry.CreateTelemetryInstrumentation(versionString)
	if err != nil {
		cmd.logger.ErrorContext(ctx, "error creating instrumentation", "error", err)
		return err
	}
	ctx = util.WithInstrumentation(ctx, instrumentation)

	res, watchPaths, err := loadConfigs(ctx, cmd)
	if err != nil {
		cmd.logger.ErrorContext(ctx, "unable to load tools configuration", "error", err)
		return err
	}
	if cmd.listToolsets {
		printToolsets(cmd, res)
		return nil
	}
	applyParsed(&cmd.cfg, res)

	s, err := server.NewServer(ctx, cmd.cfg)
	if err != nil {
		cmd.logger.ErrorContext(ctx, "error initializing server", "error", err)
		return err
	}

	if !cmd.cfg.DisableReload && len(watchPaths) > 0 {
		go watchToolsFiles(ctx, cmd, s, watchPaths)
	}

	if cmd.cfg.Stdio {
		err = s.ServeStdio(ctx, cmd.inStream, cmd.outStream)
	} else {
		err = s.ListenAndServe(ctx)
	}
	if err != nil {
		cmd.logger.ErrorContext(ctx, "server error", "error", err)
		return err
	}
	return nil
}

// watchToolsFiles reloads the resource snapshot when a watched config file
// changes. Events are debounced because editors commonly emit several writes
// per save. A reload that fails validation keeps the previous snapshot.
func watchToolsFiles(ctx context.Context, cmd *Command, s *server.Server, paths []string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cmd.logger.ErrorContext(ctx, "unable to start config watcher", "error", err)
		return
	}
	defer watcher.Close()

	watched := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		watched[abs] = struct{}{}
		// Watch the directory: editors replace files on save, which drops
		// a watch registered on the file itself.
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			cmd.logger.WarnContext(ctx, "unable to watch config directory", "path", filepath.Dir(abs), "error", err)
		}
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, ok := watched[abs]; ok {
				debounce = time.After(100 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			cmd.logger.WarnContext(ctx, "config watcher error", "error", err)
		case <-debounce:
			debounce = nil
			res := server.LoadResourceConfigs(ctx, paths)
			if err := res.Err(); err != nil {
				cmd.logger.WarnContext(ctx, "config reload failed, keeping previous configuration", "error", err)
				continue
			}
			cfg := cmd.cfg
			applyParsed(&cfg, res)
			if err := s.ReloadConfig(ctx, cfg); err != nil {
				cmd.logger.WarnContext(ctx, "config reload failed, keeping previous configuration", "error", err)
			}
		}
	}
}
