package split

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"sqnxt/core/ckkswrapper"
	"sqnxt/nn/layers"
)

// Server evaluates a linear classifier on encrypted feature vectors.
type Server struct {
	head *layers.Linear
	kit  *ckkswrapper.ServerKit
	conn io.ReadWriteCloser
	p    *Protocol

	// Logf receives one line per served sample when set.
	Logf func(format string, args ...interface{})

	mu       sync.Mutex
	served   int
	evalTime time.Duration
}

// NewServer copies the classifier's weights into a layer that evaluates
// under the kit's evaluation keys.
func NewServer(conn io.ReadWriteCloser, classifier *layers.Linear, kit *ckkswrapper.ServerKit) (*Server, error) {
	if kit == nil {
		return nil, fmt.Errorf("server needs evaluation keys")
	}
	head := layers.NewLinear(classifier.InDim(), classifier.OutDim(), false, nil)
	copy(head.W.Data, classifier.W.Data)
	copy(head.B.Data, classifier.B.Data)
	head.SetServerKit(kit)
	if err := head.SyncHE(); err != nil {
		return nil, err
	}
	return &Server{head: head, kit: kit, conn: conn, p: NewProtocol(conn, conn)}, nil
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

// Stats returns the number of samples served and the time spent in the
// homomorphic classifier.
func (s *Server) Stats() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served, s.evalTime
}

// Serve answers feature messages until the client sends done, the stream
// ends or ctx is cancelled. Per-sample failures are reported to the client
// as error messages and do not stop the loop. The stream is closed on
// return.
func (s *Server) Serve(ctx context.Context) error {
	defer s.conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-stop:
		}
	}()

	for {
		payload, err := s.p.ReceiveFeatures()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive features: %w", err)
		}
		out, err := s.evaluate(payload)
		if err != nil {
			s.logf("sample %d: %v", payload.SampleID, err)
			if err := s.p.SendError(fmt.Errorf("sample %d: %w", payload.SampleID, err)); err != nil {
				return fmt.Errorf("send error: %w", err)
			}
			continue
		}
		if err := s.p.SendLogits(out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("send logits: %w", err)
		}
	}
}

func (s *Server) evaluate(payload *CipherPayload) (CipherPayload, error) {
	if payload.Dim != s.head.InDim() {
		return CipherPayload{}, fmt.Errorf("feature dimension %d, classifier expects %d", payload.Dim, s.head.InDim())
	}
	ct, err := payload.Unmarshal(s.kit.Params)
	if err != nil {
		return CipherPayload{}, err
	}
	start := time.Now()
	logits, err := s.head.ForwardCipher(ct)
	if err != nil {
		return CipherPayload{}, err
	}
	elapsed := time.Since(start)

	s.mu.Lock()
	s.served++
	s.evalTime += elapsed
	s.mu.Unlock()
	s.logf("sample %d: classifier evaluated in %v (level %d -> %d)", payload.SampleID, elapsed, ct.Level(), logits.Level())

	return NewCipherPayload(payload.SampleID, logits, s.head.OutDim())
}
