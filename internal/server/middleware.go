// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/rs/zerolog"
)

// delivery is what the access log knows about one request. HandleMessage
// fills in the push fields once the body is decoded.
type delivery struct {
	requestID    string
	messageID    string
	subscription string
	kind         string
}

type deliveryKey struct{}

var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9\-_]{1,128}$`)

// requestID prefers the trace id Cloud Run stamps on push deliveries, then a
// caller supplied X-Request-ID.
func requestID(r *http.Request) string {
	if trace, _, _ := strings.Cut(r.Header.Get("X-Cloud-Trace-Context"), "/"); validRequestID.MatchString(trace) {
		return trace
	}
	if id := r.Header.Get("X-Request-ID"); validRequestID.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

// Deliveries tags each request with an id, echoed in X-Request-ID, and logs
// it once answered. Push deliveries are logged with their message id and
// payload kind.
func Deliveries(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		d := &delivery{requestID: requestID(r)}
		w.Header().Set("X-Request-ID", d.requestID)

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), deliveryKey{}, d)))

		var event *zerolog.Event
		switch {
		case rec.status >= http.StatusInternalServerError:
			event = getLog().Warn()
		case r.URL.Path == "/healthz":
			event = getLog().Debug()
		default:
			event = getLog().Info()
		}
		event.
			Str("request_id", d.requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start))
		if d.messageID != "" {
			event.Str("message_id", d.messageID)
		}
		if d.subscription != "" {
			event.Str("subscription", d.subscription)
		}
		if d.kind != "" {
			event.Str("kind", d.kind)
		}
		event.Msg("HTTP request")
	})
}

// noteDelivery records the decoded push delivery for the access log.
func noteDelivery(ctx context.Context, env *protocol.Envelope, subscription string) {
	d, ok := ctx.Value(deliveryKey{}).(*delivery)
	if !ok {
		return
	}
	d.messageID = env.DeliveryID()
	d.subscription = subscription
	if payload, err := env.Payload(); err == nil {
		d.kind = protocol.Classify(payload).String()
	}
}

// RequestID returns the id Deliveries assigned to the request in ctx.
func RequestID(ctx context.Context) string {
	if d, ok := ctx.Value(deliveryKey{}).(*delivery); ok {
		return d.requestID
	}
	return ""
}

// Recovery turns a panic while handling a delivery into a 500, which makes
// the push subscription redeliver it.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				getLog().Error().
					Str("request_id", RequestID(r.Context())).
					Interface("panic", p).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic while handling delivery")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const defaultMaxBodyBytes = 10 << 20

// MaxBodySize caps delivery bodies. Non-positive limits use the 10 MB
// Pub/Sub message ceiling.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tooLarge reports whether err came from a MaxBodySize limit.
func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// recorder captures the response status. It stays hijackable for /ws.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *recorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	return hj.Hijack()
}

func (w *recorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
