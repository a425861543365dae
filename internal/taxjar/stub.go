package taxjar

import (
	"context"
	"net/http"
	"sync"
)

// StubClient answers every request with a canned response and records the
// bodies it was sent.
type StubClient struct {
	mu       sync.Mutex
	response Response
	err      error
	calls    [][]byte
}

// DefaultStubBody is a nexus answer with no tax due.
const DefaultStubBody = `{"tax":{"order_total_amount":0,"shipping":0,"taxable_amount":0,"amount_to_collect":0,"rate":0,"has_nexus":true,"freight_taxable":false,"breakdown":{"line_items":[]}}}`

// NewStubClient returns a stub answering 200 with body. An empty body uses
// DefaultStubBody.
func NewStubClient(body string) *StubClient {
	if body == "" {
		body = DefaultStubBody
	}
	return &StubClient{response: Response{StatusCode: http.StatusOK, Body: []byte(body)}}
}

// Respond replaces the canned response.
func (s *StubClient) Respond(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response = resp
	s.err = nil
}

// Fail makes subsequent calls return err.
func (s *StubClient) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Send implements Sender.
func (s *StubClient) Send(_ context.Context, body []byte) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]byte(nil), body...))
	if s.err != nil {
		return Response{}, s.err
	}
	return Response{StatusCode: s.response.StatusCode, Body: append([]byte(nil), s.response.Body...)}, nil
}

// Calls returns the bodies received so far.
func (s *StubClient) Calls() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.calls...)
}
