package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu          sync.Mutex
	uploads     []string
	filenames   []string
	combineSeen [][]string

	transcribeStatus int
	transcribeBody   string
}

func (s *fakeService) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, "missing audio", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		s.mu.Lock()
		s.uploads = append(s.uploads, string(data))
		s.filenames = append(s.filenames, header.Filename)
		status, body := s.transcribeStatus, s.transcribeBody
		s.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
	r.Post("/combine", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.combineSeen = append(s.combineSeen, req.Texts)
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{
			"combinedText": strings.Join(req.Texts, "\n"),
		})
	})
	return r
}

func newFakeServer(t *testing.T, service *fakeService) *Client {
	t.Helper()
	server := httptest.NewServer(service.routes())
	t.Cleanup(server.Close)
	return New(server.URL+"/", WithTimeout(5*time.Second))
}

func writeAudio(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.wav")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestTranscribeUploadsMultipartAndParsesResult(t *testing.T) {
	service := &fakeService{transcribeBody: `{
		"transcript": " bench 225 for 5 ",
		"summary": "Bench press",
		"extractedLifts": [
			{"exercise": "Bench Press", "sets": [{"weight": 225, "reps": 5, "unit": "lb"}]},
			{"exercise": "  "}
		]
	}`}
	client := newFakeServer(t, service)

	result, err := client.Transcribe(context.Background(), writeAudio(t, "RIFFDATA"))
	require.NoError(t, err)
	require.Equal(t, "bench 225 for 5", result.Transcript)
	require.Equal(t, "Bench press", result.Summary)
	require.Equal(t, []ExerciseGroup{{
		Exercise: "Bench Press",
		Sets:     []LiftSet{{Weight: 225, Reps: 5, Unit: "lb"}},
	}}, result.ExtractedLifts)

	require.Equal(t, []string{"RIFFDATA"}, service.uploads)
	require.Equal(t, []string{"capture.wav"}, service.filenames)
}

func TestTranscribeServerErrorIsNetworkFailure(t *testing.T) {
	service := &fakeService{transcribeStatus: http.StatusInternalServerError, transcribeBody: "boom"}
	client := newFakeServer(t, service)

	_, err := client.Transcribe(context.Background(), writeAudio(t, "RIFF"))
	require.ErrorIs(t, err, ErrNetwork)
	require.Contains(t, err.Error(), "500")
	require.Contains(t, err.Error(), "boom")
}

func TestTranscribeRejectsOversizedResponse(t *testing.T) {
	service := &fakeService{transcribeBody: `{"transcript": "` + strings.Repeat("a", maxResponseBytes) + `"}`}
	client := newFakeServer(t, service)

	_, err := client.Transcribe(context.Background(), writeAudio(t, "RIFF"))
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.Contains(t, err.Error(), "exceeds")
}

func TestTranscribeAcceptsResponseAtLimit(t *testing.T) {
	prefix, suffix := `{"transcript": "`, `"}`
	body := prefix + strings.Repeat("a", maxResponseBytes-len(prefix)-len(suffix)) + suffix
	service := &fakeService{transcribeBody: body}
	client := newFakeServer(t, service)

	result, err := client.Transcribe(context.Background(), writeAudio(t, "RIFF"))
	require.NoError(t, err)
	require.Len(t, result.Transcript, maxResponseBytes-len(prefix)-len(suffix))
}

func TestTranscribeUnreachableIsNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	_, err := New(base).Transcribe(context.Background(), writeAudio(t, "RIFF"))
	require.ErrorIs(t, err, ErrNetwork)
}

func TestTranscribeResponseClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "not json", body: "<html>", want: ErrMalformedResponse},
		{name: "missing transcript", body: `{"summary":"x"}`, want: ErrMalformedResponse},
		{name: "wrong transcript type", body: `{"transcript":42}`, want: ErrMalformedResponse},
		{name: "blank transcript", body: `{"transcript":"   "}`, want: ErrEmptyTranscript},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeServer(t, &fakeService{transcribeBody: tc.body})
			_, err := client.Transcribe(context.Background(), writeAudio(t, "RIFF"))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTranscribeIgnoresUndecodableEnrichments(t *testing.T) {
	client := newFakeServer(t, &fakeService{transcribeBody: `{"transcript":"squats","extractedLifts":"n/a"}`})

	result, err := client.Transcribe(context.Background(), writeAudio(t, "RIFF"))
	require.NoError(t, err)
	require.Equal(t, "squats", result.Transcript)
	require.Nil(t, result.ExtractedLifts)
}

func TestTranscribeMissingFile(t *testing.T) {
	_, err := New("http://127.0.0.1:1").Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNetwork))
}

func TestCombinePreservesOrder(t *testing.T) {
	service := &fakeService{}
	client := newFakeServer(t, service)

	combined, err := client.Combine(context.Background(), []string{"225 x 5", "another set"})
	require.NoError(t, err)
	require.Equal(t, "225 x 5\nanother set", combined)
	require.Equal(t, [][]string{{"225 x 5", "another set"}}, service.combineSeen)
}

func TestCombineRejectsInvalidInput(t *testing.T) {
	service := &fakeService{}
	client := newFakeServer(t, service)

	for _, texts := range [][]string{nil, {"only one"}, {"one", "  "}} {
		_, err := client.Combine(context.Background(), texts)
		require.ErrorIs(t, err, ErrInvalidCombine)
	}
	require.Empty(t, service.combineSeen)
}

func TestCombineMissingField(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/combine", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"text":"wrong field"}`)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	_, err := New(server.URL).Combine(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestPing(t *testing.T) {
	client := newFakeServer(t, &fakeService{})
	require.NoError(t, client.Ping(context.Background(), "/health"))
	require.ErrorIs(t, client.Ping(context.Background(), "/missing"), ErrNetwork)
}

func TestNewNormalizesBaseURL(t *testing.T) {
	require.Equal(t, "http://svc:8787", New(" http://svc:8787/ ").BaseURL())
}
