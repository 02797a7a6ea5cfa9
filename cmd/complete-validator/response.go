package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/msageha/complete_validator/internal/queue"
)

// response is the JSON envelope printed by the queue commands.
type response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeResponse(w io.Writer, resp response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

func writeSuccess(w io.Writer, data any) error {
	return writeResponse(w, response{Success: true, Data: data})
}

// writeFailure prints err with its queue code and yields exit status 1.
func writeFailure(w io.Writer, err error) error {
	msg := err.Error()
	var opErr *queue.OpError
	if errors.As(err, &opErr) && opErr.Message != "" {
		msg = opErr.Message
	}
	if werr := writeResponse(w, response{Error: &errorDetail{Code: queue.Code(err), Message: msg}}); werr != nil {
		return werr
	}
	return exitError{code: 1}
}
