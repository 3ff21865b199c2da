package model

import "encoding/json"

// LogRef identifies the chain log an input record was built from.
type LogRef struct {
	ChainID     uint64 `json:"chain_id,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	LogIndex    uint64 `json:"log_index,omitempty"`
	Address     string `json:"address,omitempty"`
}

// IsZero reports whether no provenance was recorded.
func (r LogRef) IsZero() bool {
	return r == LogRef{}
}

// SourceLog is the line format written by fetch: an input record plus its provenance.
type SourceLog struct {
	LogRef
	Record InputRecord
}

// MarshalJSON flattens the provenance and the input record into one object.
func (s SourceLog) MarshalJSON() ([]byte, error) {
	recordJSON, err := json.Marshal(s.Record)
	if err != nil {
		return nil, err
	}
	refJSON, err := json.Marshal(s.LogRef)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(refJSON, &fields); err != nil {
		return nil, err
	}
	var recordFields map[string]json.RawMessage
	if err := json.Unmarshal(recordJSON, &recordFields); err != nil {
		return nil, err
	}
	for k, v := range recordFields {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// DecodedTopics is one decoded output row as written to sinks.
type DecodedTopics struct {
	Seq uint64 `json:"seq"`
	LogRef
	OutputRecord
}
