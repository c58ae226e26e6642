package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/graphcache/graphcache"
)

const rootUsage = `graphcache — normalized GraphQL client cache, driven as a stream

USAGE:
  graphcache <command> [flags]

COMMANDS:
  run     Drive a Cache from a line-delimited JSON event stream on stdin
  help    Show help for any command
`

const runUsage = `run FLAGS:
  -schema <file>         Minified IntrospectionQuery JSON payload (optional)
  -otel.endpoint <addr>  OTLP collector endpoint
  -otel.service <name>   OpenTelemetry service name (default: graphcache)
  -pretty                Pretty-print emitted results

Reads one JSON object per line from stdin. Each line is one of:

  {"event":"operation","key":"q1","kind":"query","query":"{ viewer { id } }",
   "operationName":"","variables":{},"policy":"cache-first"}
  {"event":"result","operation":"q1","data":{...},"error":"...","hasNext":false}
  {"event":"teardown","operation":"q1"}

Every Result the cache emits for a live operation is written to stdout as one
JSON object per line until that operation is torn down.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("graphcache", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer))
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "run":
		return cmdRun(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "run":
		fmt.Print(runUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

// event is the line-delimited wire shape cmdRun reads from stdin.
type event struct {
	Event string `json:"event"`

	// operation
	Key           string         `json:"key"`
	Kind          string         `json:"kind"`
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Policy        string         `json:"policy"`

	// result
	Operation  string           `json:"operation"`
	Data       map[string]any   `json:"data"`
	Error      string           `json:"error"`
	HasNext    bool             `json:"hasNext"`
	ErrorPaths [][]string       `json:"errorPaths"`
}

func cmdRun(args []string) error {
	schemaFile := ""
	otelEndpoint := ""
	otelService := "graphcache"
	pretty := false

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "Minified IntrospectionQuery JSON payload")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.BoolVar(&pretty, "pretty", pretty, "Pretty-print emitted results")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, runUsage)
		return err
	}

	var schemaBytes []byte
	if schemaFile != "" {
		b, err := os.ReadFile(schemaFile)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		schemaBytes = b
	}

	c := graphcache.New(graphcache.Options{
		Schema:        schemaBytes,
		Logger:        func(severity graphcache.Severity, message string) { log.Printf("[%s] %s", severity, message) },
		TraceEndpoint: otelEndpoint,
		ServiceName:   otelService,
	})
	defer func() { _ = c.Shutdown(context.Background()) }()

	out := &stdoutWriter{pretty: pretty}
	var wg sync.WaitGroup

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			out.writeErr(fmt.Errorf("parse event: %w", err))
			continue
		}
		dispatch(c, ev, out, &wg)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	wg.Wait()
	return nil
}

func dispatch(c *graphcache.Cache, ev event, out *stdoutWriter, wg *sync.WaitGroup) {
	switch ev.Event {
	case "operation":
		op := graphcache.Operation{
			Key:           graphcache.OperationKey(ev.Key),
			Kind:          graphcache.OperationKind(ev.Kind),
			Query:         ev.Query,
			OperationName: ev.OperationName,
			Variables:     ev.Variables,
			RequestPolicy: graphcache.RequestPolicy(ev.Policy),
		}
		ch := c.Operation(op)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for res := range ch {
				out.writeResult(res)
			}
		}()
	case "result":
		var err error
		if ev.Error != "" {
			err = fmt.Errorf("%s", ev.Error)
		}
		c.Result(graphcache.IncomingResult{
			Operation:  graphcache.OperationKey(ev.Operation),
			Data:       ev.Data,
			Error:      err,
			HasNext:    ev.HasNext,
			ErrorPaths: ev.ErrorPaths,
		})
	case "teardown":
		c.Teardown(graphcache.OperationKey(ev.Operation))
	default:
		out.writeErr(fmt.Errorf("unknown event %q", ev.Event))
	}
}

// stdoutWriter serializes concurrent writes from every operation's result
// goroutine onto one stdout stream, one JSON object per line.
type stdoutWriter struct {
	mu     sync.Mutex
	pretty bool
}

type outputLine struct {
	Operation    string         `json:"operation"`
	Data         map[string]any `json:"data,omitempty"`
	Error        string         `json:"error,omitempty"`
	Stale        bool           `json:"stale,omitempty"`
	HasNext      bool           `json:"hasNext,omitempty"`
	CacheOutcome string         `json:"cacheOutcome,omitempty"`
	Forward      bool           `json:"forward,omitempty"`
}

func (w *stdoutWriter) writeResult(res graphcache.Result) {
	line := outputLine{
		Operation:    string(res.Operation),
		Data:         res.Data,
		Stale:        res.Stale,
		HasNext:      res.HasNext,
		CacheOutcome: string(res.CacheOutcome),
		Forward:      res.Forward,
	}
	if res.Error != nil {
		line.Error = res.Error.Error()
	}
	w.write(line)
}

func (w *stdoutWriter) writeErr(err error) {
	w.write(outputLine{Error: err.Error()})
}

func (w *stdoutWriter) write(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var b []byte
	var err error
	if w.pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "graphcache: marshal result:", err)
		return
	}
	fmt.Println(string(b))
}
