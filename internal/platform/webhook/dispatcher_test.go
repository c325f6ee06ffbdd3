package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type samplePayload struct {
	PaymentID int64  `json:"payment_id"`
	Status    string `json:"status"`
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"payment_id":7}`)
	sig := SignPayload(payload, "secret")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !VerifySignature(payload, "secret", sig) {
		t.Error("expected bare signature to verify")
	}
	if !VerifySignature(payload, "secret", "sha256="+sig) {
		t.Error("expected prefixed signature to verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("expected signature under another secret to fail")
	}
	if VerifySignature([]byte(`{"payment_id":8}`), "secret", sig) {
		t.Error("expected signature over other payload to fail")
	}
}

func TestDispatcher_Post_SignsPayload(t *testing.T) {
	var gotSig, gotEvent, gotID string
	var got samplePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotEvent = r.Header.Get(EventHeader)
		gotID = r.Header.Get(IDHeader)
		if !VerifySignature(body, "s3cret", gotSig) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := NewDispatcher("s3cret")
	del, err := d.Post(context.Background(), srv.URL, "payment.paid", samplePayload{PaymentID: 7, Status: "Paid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if del.StatusCode != http.StatusOK || del.Attempts != 1 {
		t.Errorf("unexpected delivery: %+v", del)
	}
	if string(del.Body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", del.Body)
	}
	if gotEvent != "payment.paid" || gotID != del.ID {
		t.Errorf("unexpected headers: event=%q id=%q", gotEvent, gotID)
	}
	if got.PaymentID != 7 {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestDispatcher_Post_NoSecretNoSignature(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(SignatureHeader)
	}))
	defer srv.Close()

	if _, err := NewDispatcher("").Post(context.Background(), srv.URL, "x", samplePayload{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != "" {
		t.Errorf("expected no signature header, got %q", sig)
	}
}

func TestDispatcher_Post_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewDispatcher("", WithMaxRetries(3), WithRetryDelays(0))
	del, err := d.Post(context.Background(), srv.URL, "x", samplePayload{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if del.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d (server saw %d)", del.Attempts, calls.Load())
	}
}

func TestDispatcher_Post_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher("", WithMaxRetries(2), WithRetryDelays(0))
	del, err := d.Post(context.Background(), srv.URL, "x", samplePayload{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsStatus(err, http.StatusInternalServerError) {
		t.Errorf("expected status error 500, got %v", err)
	}
	if del.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", del.Attempts)
	}
}

func TestDispatcher_Post_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad card", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	d := NewDispatcher("", WithMaxRetries(5), WithRetryDelays(0))
	_, err := d.Post(context.Background(), srv.URL, "x", samplePayload{})
	if !IsStatus(err, http.StatusUnprocessableEntity) {
		t.Fatalf("expected 422 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestDispatcher_Post_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewDispatcher("", WithMaxRetries(1), WithRetryDelays(0), WithTimeout(time.Second))
	del, err := d.Post(context.Background(), url, "x", samplePayload{})
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if del.Attempts != 2 || del.StatusCode != 0 {
		t.Errorf("unexpected delivery: %+v", del)
	}
}

func TestDispatcher_Post_StopsWhenContextCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d := NewDispatcher("", WithMaxRetries(5), WithRetryDelays(time.Minute))
	if _, err := d.Post(ctx, srv.URL, "x", samplePayload{}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", calls.Load())
	}
}

func TestDispatcher_Delay(t *testing.T) {
	d := NewDispatcher("", WithRetryDelays(time.Second, 2*time.Second))
	if d.delay(1) != time.Second || d.delay(2) != 2*time.Second || d.delay(5) != 2*time.Second {
		t.Errorf("unexpected delays: %v %v %v", d.delay(1), d.delay(2), d.delay(5))
	}
}
