// Package jsonrpcserver allows exposing functions like:
// func Foo(context, int) (int, error)
// as a JSON RPC methods
//
// Requests may carry an X-Flashbots-Signature header. When present it is verified
// against the request body and the signer is put into the request context.
package jsonrpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

var (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeCustomError    = -32000
)

const (
	maxOriginIDLength = 255
	maxBodySize       = 1 << 20
)

type (
	signerKey struct{}
	originKey struct{}
)

type JSONRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      any               `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type JSONRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      any              `json:"id"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError    `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *any   `json:"data,omitempty"`
}

type Handler struct {
	methods       map[string]methodHandler
	requireSigner bool
}

type Methods map[string]interface{}

// NewHandler creates JSONRPC http.Handler from the map that maps method names to method functions
// each method function must:
// - have context as a first argument
// - return error as a last argument
// - have argument types that can be unmarshalled from JSON
// - have return types that can be marshalled to JSON
func NewHandler(methods Methods) (*Handler, error) {
	m := make(map[string]methodHandler)
	for name, fn := range methods {
		method, err := newMethodHandler(fn)
		if err != nil {
			return nil, err
		}
		m[name] = method
	}
	return &Handler{
		methods: m,
	}, nil
}

// RequireSignature rejects requests without a valid signature header.
func (h *Handler) RequireSignature() *Handler {
	h.requireSigner = true
	return h
}

func writeJSONRPCError(w http.ResponseWriter, id any, code int, msg string) {
	res := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  nil,
		Error: &JSONRPCError{
			Code:    code,
			Message: msg,
			Data:    nil,
		},
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSONRPCError(w, nil, CodeParseError, err.Error())
		return
	}

	// read request
	var req JSONRPCRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, CodeParseError, err.Error())
		return
	}

	if req.JSONRPC != "2.0" {
		writeJSONRPCError(w, req.ID, CodeParseError, "invalid jsonrpc version")
		return
	}
	if req.ID != nil {
		// id must be string or number
		switch req.ID.(type) {
		case string, float64:
		default:
			writeJSONRPCError(w, req.ID, CodeParseError, "invalid id type")
			return
		}
	}

	ctx := r.Context()
	if signature := r.Header.Get(SignatureHeader); signature != "" {
		signer, err := VerifySignature(signature, body)
		if err != nil {
			writeJSONRPCError(w, req.ID, CodeInvalidRequest, err.Error())
			return
		}
		ctx = context.WithValue(ctx, signerKey{}, signer)
	} else if h.requireSigner {
		writeJSONRPCError(w, req.ID, CodeInvalidRequest, "missing signature")
		return
	}

	origin := r.Header.Get("x-flashbots-origin")
	if origin != "" {
		if len(origin) > maxOriginIDLength {
			writeJSONRPCError(w, req.ID, CodeInvalidRequest, "x-flashbots-origin header is too long")
			return
		}
		ctx = context.WithValue(ctx, originKey{}, origin)
	}

	// get method
	method, ok := h.methods[req.Method]
	if !ok {
		writeJSONRPCError(w, req.ID, CodeMethodNotFound, "method not found")
		return
	}

	// call method
	result, err := method.call(ctx, req.Params)
	if errors.Is(err, ErrInvalidParams) {
		writeJSONRPCError(w, req.ID, CodeInvalidParams, err.Error())
		return
	}
	if err != nil {
		writeJSONRPCError(w, req.ID, CodeCustomError, err.Error())
		return
	}

	marshaledResult, err := json.Marshal(result)
	if err != nil {
		writeJSONRPCError(w, req.ID, CodeInternalError, err.Error())
		return
	}

	// write response
	rawMessageResult := json.RawMessage(marshaledResult)
	res := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  &rawMessageResult,
		Error:   nil,
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// GetSigner returns the verified signer of the request, zero address when unsigned.
func GetSigner(ctx context.Context) common.Address {
	value, ok := ctx.Value(signerKey{}).(common.Address)
	if !ok {
		return common.Address{}
	}
	return value
}

func GetOrigin(ctx context.Context) string {
	value, ok := ctx.Value(originKey{}).(string)
	if !ok {
		return ""
	}
	return value
}
