package routes

import (
	"cssbattle-eval/internal/capture"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTargets_Resolve(t *testing.T) {
	type testCase struct {
		name        string
		storage     bool
		targetURL   string
		challengeID string
		want        string
		wantErr     bool
	}
	tests := []testCase{
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), targetURL: "https://example.com/1.png", want: "https://example.com/1.png"}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), targetURL: "data:image/png;base64,AAAA", want: "data:image/png;base64,AAAA"}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), targetURL: "/etc/passwd", wantErr: true}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), targetURL: "file:///etc/passwd", wantErr: true}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), targetURL: "s3://private-bucket/secret.png", wantErr: true}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), storage: true, targetURL: "s3://bucket/1.png", want: "s3://bucket/1.png"}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), storage: true, targetURL: "targets/1.png", want: "targets/1.png"}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), challengeID: "ab12", want: "public/challenges/2024-03_ab12.png"}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), challengeID: "cd34", wantErr: true}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), challengeID: "missing", wantErr: true}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), targetURL: "https://example.com/1.png", challengeID: "ab12", wantErr: true}
		}(),
		func() testCase {
			_, _, line, _ := runtime.Caller(0)
			return testCase{name: fmt.Sprintf("line:%d", line), wantErr: true}
		}(),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := newTestTargets(t)
			targets.StorageTargets = tt.storage

			got, err := targets.Resolve(tt.targetURL, tt.challengeID)
			if tt.wantErr {
				if !errors.Is(err, BadRequestError) {
					t.Fatalf("Expected BadRequestError, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestTargets_Document(t *testing.T) {
	tests := []struct {
		name    string
		hosts   []string
		markup  string
		url     string
		want    capture.Document
		wantErr bool
	}{
		{
			name:   "Markup",
			markup: "<div></div>",
			want:   capture.Document{Markup: "<div></div>"},
		},
		{
			name:    "URLRejectedWithoutAllowList",
			url:     "http://169.254.169.254/latest/meta-data/",
			wantErr: true,
		},
		{
			name:  "AllowedHost",
			hosts: []string{"cssbattle.dev"},
			url:   "https://cssbattle.dev/play/1",
			want:  capture.Document{URL: "https://cssbattle.dev/play/1"},
		},
		{
			name:    "OtherHost",
			hosts:   []string{"cssbattle.dev"},
			url:     "http://localhost:8383/healthz",
			wantErr: true,
		},
		{
			name:    "FileScheme",
			hosts:   []string{"cssbattle.dev"},
			url:     "file://cssbattle.dev/etc/passwd",
			wantErr: true,
		},
		{
			name:    "Both",
			hosts:   []string{"cssbattle.dev"},
			markup:  "<div></div>",
			url:     "https://cssbattle.dev/play/1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := &Targets{DocumentHosts: tt.hosts}

			got, err := targets.Document(tt.markup, tt.url)
			if tt.wantErr {
				if !errors.Is(err, BadRequestError) {
					t.Fatalf("Expected BadRequestError, got %+v, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluate_RejectsLocalTargets(t *testing.T) {
	handler := Evaluate(newTestEvaluator(), newTestTargets(t), newTestMetrics(t))

	for _, body := range []string{
		`{"markup": "<div></div>", "targetUrl": "/etc/passwd"}`,
		`{"markup": "<div></div>", "targetUrl": "file:///etc/passwd"}`,
		`{"url": "file:///etc/passwd", "targetUrl": "https://example.com/1.png"}`,
	} {
		recorder := post(t, handler, body)
		if recorder.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status = %d, want %d", body, recorder.Code, http.StatusUnprocessableEntity)
		}
	}
}
