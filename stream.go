package bulletin

import (
	"context"
	"errors"
	"iter"

	"github.com/maorm36/bulletin/store"
)

// openFunc opens the store cursor behind a stream.
type openFunc func(ctx context.Context) (store.Cursor, error)

// MessageStream is an ordered, finite sequence of messages read from the
// store one at a time.
//
// Nothing is fetched until the first call to Next. Each message is mapped
// and handed out as soon as the store yields it. A stream cannot be
// restarted; listing again issues a new fetch.
//
// Always Close a stream you stop reading early. Reaching the end, an error
// or breaking out of All closes it automatically.
//
// MessageStream is NOT safe for concurrent use.
//
//	stream, err := svc.GetAll(ctx, 0, 10)
//	if err != nil { ... }
//	for msg, err := range stream.All(ctx) {
//	    if err != nil { ... }
//	    fmt.Println(msg.Title)
//	}
type MessageStream struct {
	open    openFunc
	cursor  store.Cursor
	current *Message
	done    bool
	closed  bool
	err     error
	count   int
	onClose func(count int, err error)
}

func newMessageStream(open openFunc, onClose func(count int, err error)) *MessageStream {
	return &MessageStream{open: open, onClose: onClose}
}

// Next advances to the next message.
// Returns (true, nil) if a message is available through Message.
// Returns (false, nil) once the sequence is exhausted.
// Returns (false, error) if the fetch failed or ctx was cancelled; the
// stream is closed and later calls return (false, nil).
func (s *MessageStream) Next(ctx context.Context) (bool, error) {
	if s.done {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		s.finish(ctx, err)
		return false, err
	}

	if s.cursor == nil {
		c, err := s.open(ctx)
		if err != nil {
			s.finish(ctx, err)
			return false, err
		}
		s.cursor = c
	}

	if s.cursor.Next(ctx) {
		s.current = ToView(s.cursor.Record())
		s.count++
		return true, nil
	}

	if err := s.cursor.Err(); err != nil {
		err = classifyCursorError(ctx, err)
		s.finish(ctx, err)
		return false, err
	}

	s.finish(ctx, nil)
	return false, nil
}

// Message returns the current message.
// Returns ErrStreamOutOfBounds if Next has not returned (true, nil).
func (s *MessageStream) Message() (*Message, error) {
	if s.current == nil {
		return nil, ErrStreamOutOfBounds
	}
	return s.current, nil
}

// Count returns how many messages the stream has yielded so far.
func (s *MessageStream) Count() int {
	return s.count
}

// Err returns the error that ended the stream, if any.
func (s *MessageStream) Err() error {
	return s.err
}

// Close stops the stream and releases the store cursor. It is safe to call
// more than once.
func (s *MessageStream) Close(ctx context.Context) error {
	s.done = true
	s.current = nil
	return s.release(ctx)
}

// All returns an iterator over the remaining messages. The stream is
// closed when the loop ends, including on break. An error is yielded once
// as the final element.
func (s *MessageStream) All(ctx context.Context) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		defer s.Close(ctx)
		for {
			ok, err := s.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(s.current, nil) {
				return
			}
		}
	}
}

// Collect drains the stream into a slice and closes it.
func (s *MessageStream) Collect(ctx context.Context) ([]*Message, error) {
	var out []*Message
	for msg, err := range s.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *MessageStream) finish(ctx context.Context, err error) {
	s.done = true
	s.current = nil
	s.err = err
	_ = s.release(ctx)
}

func (s *MessageStream) release(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var closeErr error
	if s.cursor != nil {
		// The caller's ctx may already be cancelled; closing must still run.
		closeErr = s.cursor.Close(context.WithoutCancel(ctx))
		s.cursor = nil
	}
	if s.onClose != nil {
		s.onClose(s.count, s.err)
	}
	return closeErr
}

// classifyCursorError keeps cancellation errors as they are and reports
// everything else as a store failure.
func classifyCursorError(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	return storeError("find_page", err)
}
