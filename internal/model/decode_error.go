package model

// DecodeError records a failed pull for the errors side channel.
type DecodeError struct {
	Seq uint64 `json:"seq"`
	LogRef
	Kind  string `json:"kind"`
	Error string `json:"error"`
}
