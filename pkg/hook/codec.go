package hook

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxPayloadBytes caps how much a hook or the dispatcher reads from a pipe.
const MaxPayloadBytes = 1 << 20

const schemaBaseURL = "https://forge.entrhq.dev/schema/hook/"

//go:embed schema/request.json schema/decision.json
var schemaFS embed.FS

var (
	schemaOnce     sync.Once
	requestSchema  *jsonschema.Schema
	decisionSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, name := range []string{"request.json", "decision.json"} {
			data, err := schemaFS.ReadFile("schema/" + name)
			if err != nil {
				schemaErr = fmt.Errorf("hook: read schema %s: %w", name, err)
				return
			}
			if err := compiler.AddResource(schemaBaseURL+name, bytes.NewReader(data)); err != nil {
				schemaErr = fmt.Errorf("hook: add schema %s: %w", name, err)
				return
			}
		}
		requestSchema, schemaErr = compiler.Compile(schemaBaseURL + "request.json")
		if schemaErr != nil {
			return
		}
		decisionSchema, schemaErr = compiler.Compile(schemaBaseURL + "decision.json")
	})
	return schemaErr
}

// readPayload reads at most MaxPayloadBytes from r.
func readPayload(r io.Reader, op string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes+1))
	if err != nil {
		return nil, &ProtocolError{Op: op, Msg: "read failed", Err: err}
	}
	if len(data) > MaxPayloadBytes {
		return nil, &ProtocolError{Op: op, Msg: fmt.Sprintf("payload exceeds %d bytes", MaxPayloadBytes)}
	}
	return data, nil
}

// validateDocument parses data as JSON and checks it against schema.
func validateDocument(data []byte, schema *jsonschema.Schema, op string) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &ProtocolError{Op: op, Msg: "empty payload"}
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return &ProtocolError{Op: op, Msg: "malformed JSON", Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &ProtocolError{Op: op, Msg: "schema violation", Err: err}
	}
	return nil
}

// DecodeRequest reads and validates one request document.
func DecodeRequest(r io.Reader) (*Request, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	data, err := readPayload(r, "decode request")
	if err != nil {
		return nil, err
	}
	if err := validateDocument(data, requestSchema, "decode request"); err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(bytes.TrimSpace(data), &req); err != nil {
		return nil, &ProtocolError{Op: "decode request", Msg: "malformed JSON", Err: err}
	}
	if req.ToolInput == nil {
		req.ToolInput = map[string]any{}
	}
	return &req, nil
}

// EncodeRequest serializes a request for a hook's stdin.
func EncodeRequest(req *Request) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("hook: encode nil request")
	}
	out := *req
	if out.ToolInput == nil {
		out.ToolInput = map[string]any{}
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("hook: encode request: %w", err)
	}
	return data, nil
}

// DecodeDecision parses and validates one decision document, as printed by a
// hook process.
func DecodeDecision(data []byte) (*Decision, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	if len(data) > MaxPayloadBytes {
		return nil, &ProtocolError{Op: "decode decision", Msg: fmt.Sprintf("payload exceeds %d bytes", MaxPayloadBytes)}
	}
	if err := validateDocument(data, decisionSchema, "decode decision"); err != nil {
		return nil, err
	}
	var d Decision
	if err := json.Unmarshal(bytes.TrimSpace(data), &d); err != nil {
		return nil, &ProtocolError{Op: "decode decision", Msg: "malformed JSON", Err: err}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// EncodeDecision writes d as a single JSON line.
func EncodeDecision(w io.Writer, d *Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("hook: encode decision: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("hook: write decision: %w", err)
	}
	return nil
}
