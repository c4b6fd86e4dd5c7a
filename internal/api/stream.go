// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE event or NDJSON line.
const MaxChunkSize = 1024 * 1024

// rawReadSize is the read size for raw partial JSON streams.
const rawReadSize = 4096

// ErrChunkTooLarge is returned when one event exceeds MaxChunkSize.
var ErrChunkTooLarge = errors.New("stream chunk too large")

// ErrStreamTooLarge is returned when a raw streamed document grows past
// MaxResponseSize.
var ErrStreamTooLarge = errors.New("stream document too large")

// sqlEvent is the SSE event type carrying directory query rows.
const sqlEvent = "sql"

// ObjectFunc receives each complete or completed-partial object in order.
// Returning an error stops the stream.
type ObjectFunc func(obj json.RawMessage) error

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(err == io.EOF && len(line) > 0) {
			if err == io.EOF {
				// If we have data, return it before EOF
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			if err == io.EOF {
				return "", nil, io.EOF
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[5:]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			size += len(data)
			if size > MaxChunkSize {
				return "", nil, ErrChunkTooLarge
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
		// Ignore other fields (id:, retry:, comments starting with :)

		if err == io.EOF {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, io.EOF
		}
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat submits a question and calls onObject for every object the
// backend streams back. It returns nil when the stream completes, the
// context's error when cancelled, and any transport or decode error otherwise.
func (c *Client) StreamChat(ctx context.Context, chatReq ChatRequest, onObject func(json.RawMessage) error) error {
	bodyBytes, err := json.Marshal(chatReq)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.paths.ChatPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, chatReq.AuthToken)
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := readResponse(resp.Body)
		return handleErrorResponse(resp.StatusCode, body)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	c.logger.Debug("chat stream opened",
		zap.String("thread_id", chatReq.ThreadID),
		zap.String("chat_id", chatReq.ChatID),
		zap.String("content_type", mediaType),
		zap.Duration("ttfb", time.Since(start)))

	// Every fragment repeats the answer so far, so the body is not capped.
	body := resp.Body
	switch mediaType {
	case "text/event-stream":
		err = processSSE(ctx, body, onObject)
	case "application/x-ndjson", "application/jsonl":
		err = processNDJSON(ctx, body, onObject)
	default:
		err = processRaw(ctx, body, onObject)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// processSSE treats each data event as one object. Events whose data is not
// yet valid JSON are closed with CompletePartialJSON. An "sql" event carries
// directory rows and is delivered as {"sql": rows}.
func processSSE(ctx context.Context, body io.Reader, onObject ObjectFunc) error {
	reader := NewSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		// Check for [DONE] signal
		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		if event == sqlEvent {
			if !json.Valid(data) {
				continue
			}
			obj := make([]byte, 0, len(data)+8)
			obj = append(append(append(obj, `{"sql":`...), data...), '}')
			if err := onObject(json.RawMessage(obj)); err != nil {
				return err
			}
			continue
		}

		obj, ok := completeObject(data)
		if !ok {
			// Skip malformed chunks
			continue
		}
		if err := onObject(obj); err != nil {
			return err
		}
	}
}

// processNDJSON treats each non-empty line as one object.
func processNDJSON(ctx context.Context, body io.Reader, onObject ObjectFunc) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxChunkSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		obj, ok := completeObject(line)
		if !ok {
			continue
		}
		if err := onObject(obj); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return ErrChunkTooLarge
		}
		return err
	}
	return nil
}

// processRaw accumulates a single JSON document as it grows and emits the
// completed prefix whenever it changes.
func processRaw(ctx context.Context, body io.Reader, onObject ObjectFunc) error {
	var (
		buf  []byte
		last []byte
	)
	chunk := make([]byte, rawReadSize)

	emit := func() error {
		completed, ok := CompletePartialJSON(buf)
		if !ok || bytes.Equal(completed, last) {
			return nil
		}
		last = completed
		return onObject(json.RawMessage(completed))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(chunk)
		if n > 0 {
			if len(buf)+n > MaxResponseSize {
				return ErrStreamTooLarge
			}
			buf = append(buf, chunk[:n]...)
			if emitErr := emit(); emitErr != nil {
				return emitErr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// completeObject returns data as an object, closing it if it is a prefix.
func completeObject(data []byte) (json.RawMessage, bool) {
	if json.Valid(data) {
		return json.RawMessage(append([]byte(nil), data...)), true
	}
	completed, ok := CompletePartialJSON(data)
	if !ok {
		return nil, false
	}
	return json.RawMessage(completed), true
}
