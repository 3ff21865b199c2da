package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// TopicDelimiter separates topics when they arrive joined in a single string.
const TopicDelimiter = ","

// ErrInputShape marks a record that does not deserialize into an InputRecord.
var ErrInputShape = errors.New("malformed input record")

// InputRecord is one pulled record handed to the topic decoder.
type InputRecord struct {
	Topics []string `json:"topics"`
	Number int      `json:"number"`
	ABI    []byte   `json:"abi,omitempty"`
	Value  string   `json:"value,omitempty"`
}

// HasABI reports whether an interface description was supplied.
func (r InputRecord) HasABI() bool {
	return len(bytes.TrimSpace(r.ABI)) > 0
}

type inputRecordJSON struct {
	Topics json.RawMessage `json:"topics"`
	Number json.RawMessage `json:"number"`
	ABI    json.RawMessage `json:"abi"`
	Value  *string         `json:"value"`
}

// MarshalJSON writes topics as an array and the ABI as embedded JSON.
func (r InputRecord) MarshalJSON() ([]byte, error) {
	out := struct {
		Topics []string        `json:"topics"`
		Number int             `json:"number"`
		ABI    json.RawMessage `json:"abi,omitempty"`
		Value  string          `json:"value,omitempty"`
	}{
		Topics: r.Topics,
		Number: r.Number,
		Value:  r.Value,
	}
	if out.Topics == nil {
		out.Topics = []string{}
	}
	if r.HasABI() {
		if json.Valid(r.ABI) {
			out.ABI = json.RawMessage(r.ABI)
		} else {
			quoted, err := json.Marshal(string(r.ABI))
			if err != nil {
				return nil, err
			}
			out.ABI = quoted
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an InputRecord, wrapping every shape problem in ErrInputShape.
func (r *InputRecord) UnmarshalJSON(data []byte) error {
	var raw inputRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInputShape, err)
	}

	topics, err := parseTopicsField(raw.Topics)
	if err != nil {
		return err
	}
	number, err := parseNumberField(raw.Number)
	if err != nil {
		return err
	}
	abiBytes, err := parseABIField(raw.ABI)
	if err != nil {
		return err
	}

	*r = InputRecord{
		Topics: topics,
		Number: number,
		ABI:    abiBytes,
	}
	if raw.Value != nil {
		r.Value = *raw.Value
	}
	return nil
}

// ParseInputRecord decodes one serialized record. Unlike json.Unmarshal it reports
// syntax errors as ErrInputShape too.
func ParseInputRecord(data []byte) (InputRecord, error) {
	var rec InputRecord
	if !json.Valid(data) {
		return InputRecord{}, fmt.Errorf("%w: invalid json", ErrInputShape)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		if errors.Is(err, ErrInputShape) {
			return InputRecord{}, err
		}
		return InputRecord{}, fmt.Errorf("%w: %v", ErrInputShape, err)
	}
	return rec, nil
}

// SplitTopics splits a delimited topic string into trimmed, non-empty entries.
func SplitTopics(joined string) []string {
	parts := strings.Split(joined, TopicDelimiter)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseTopicsField(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, nil
	}

	switch raw[0] {
	case '"':
		var joined string
		if err := json.Unmarshal(raw, &joined); err != nil {
			return nil, fmt.Errorf("%w: topics: %v", ErrInputShape, err)
		}
		return SplitTopics(joined), nil
	case '[':
		var topics []string
		if err := json.Unmarshal(raw, &topics); err != nil {
			return nil, fmt.Errorf("%w: topics: %v", ErrInputShape, err)
		}
		for i, topic := range topics {
			topics[i] = strings.TrimSpace(topic)
		}
		return topics, nil
	default:
		return nil, fmt.Errorf("%w: topics must be a string or an array of strings", ErrInputShape)
	}
}

func parseNumberField(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: number is required", ErrInputShape)
	}

	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, fmt.Errorf("%w: number: %v", ErrInputShape, err)
	}
	val, err := number.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: number must be an integer: %s", ErrInputShape, number)
	}
	if val < 0 {
		return 0, fmt.Errorf("%w: number must be non-negative: %d", ErrInputShape, val)
	}
	if val > math.MaxInt32 {
		return 0, fmt.Errorf("%w: number out of range: %d", ErrInputShape, val)
	}
	return int(val), nil
}

func parseABIField(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: abi: %v", ErrInputShape, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, nil
		}
		return []byte(text), nil
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}
