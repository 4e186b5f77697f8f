package responsewriter

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWrap_DefaultsTo200(t *testing.T) {
	w := Wrap(httptest.NewRecorder())

	if _, err := w.Write([]byte("ok")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.StatusCode() != http.StatusOK {
		t.Errorf("StatusCode() = %d, want 200", w.StatusCode())
	}
}

func TestWriteHeader_RecordsFirstStatusOnly(t *testing.T) {
	rec := httptest.NewRecorder()
	w := Wrap(rec)

	w.WriteHeader(http.StatusTooManyRequests)
	w.WriteHeader(http.StatusOK) // late second call must be ignored

	if w.StatusCode() != http.StatusTooManyRequests {
		t.Errorf("StatusCode() = %d, want 429", w.StatusCode())
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("underlying code = %d, want 429", rec.Code)
	}
}

func TestWrite_AccumulatesBytes(t *testing.T) {
	w := Wrap(httptest.NewRecorder())

	for _, chunk := range []string{"hello ", "world"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if w.BytesWritten() != len("hello world") {
		t.Errorf("BytesWritten() = %d, want %d", w.BytesWritten(), len("hello world"))
	}
}

func TestUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	if Wrap(rec).Unwrap() != rec {
		t.Error("Unwrap must return the wrapped writer")
	}
}
