package sse_test

type Message struct {
	Data string `json:"data"`
}
