package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"
)

const (
	eventPrefix = "event:"
	chunkPrefix = "data:"
)

type streamingEventType string

const (
	streamingEventResponseOutputTextDelta streamingEventType = "response.output_text.delta"
	streamingEventResponseCompleted       streamingEventType = "response.completed"
	streamingEventResponseFailed          streamingEventType = "response.failed"
)

type streamingBodyResponseTextDelta struct {
	Delta string `json:"delta"`
}

type streamingBodyResponseFailed struct {
	Response struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// stream posts the conversation and yields the text deltas of the response
// as they arrive.
func (a *Agent) stream(ctx context.Context, messages []openAIMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		requestBodyBytes, err := json.Marshal(requestBody{Model: a.model, Input: messages, Stream: true})
		if err != nil {
			yield("", fmt.Errorf("error marshalling JSON: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			yield("", fmt.Errorf("error creating HTTP request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.apiKey)

		resp, err := a.client.Do(req)
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			yield("", fmt.Errorf("non-OK HTTP status: %s", resp.Status))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, eventPrefix) {
				continue
			}
			event := streamingEventType(strings.TrimSpace(strings.TrimPrefix(line, eventPrefix)))

			if !scanner.Scan() {
				break
			}
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))

			switch event {
			case streamingEventResponseOutputTextDelta:
				var body streamingBodyResponseTextDelta
				if err := json.Unmarshal([]byte(chunk), &body); err != nil {
					if !yield("", fmt.Errorf("error unmarshalling JSON: %w", err)) {
						return
					}
					continue
				}
				if !yield(body.Delta, nil) {
					return
				}

			case streamingEventResponseFailed:
				var body streamingBodyResponseFailed
				message := "unknown error"
				if err := json.Unmarshal([]byte(chunk), &body); err == nil && body.Response.Error != nil {
					message = body.Response.Error.Message
				}
				yield("", fmt.Errorf("response failed: %s", message))
				return

			case streamingEventResponseCompleted:
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("error reading streamed response: %w", err))
		}
	}
}
