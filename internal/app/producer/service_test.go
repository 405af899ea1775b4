package producer

import (
	"context"
	"errors"
	"io"
	"testing"

	"tutorexec/internal/domain/execution"
)

func TestNewServiceProvidesDefaultJobs(t *testing.T) {
	t.Parallel()

	service := NewService()

	first, err := service.NextJob(context.Background())
	if err != nil {
		t.Fatalf("NextJob returned error: %v", err)
	}
	if first.ID != "hello-c" {
		t.Fatalf("expected first job ID 'hello-c', got %q", first.ID)
	}

	seen := map[string]bool{first.Request.Language: true}
	exercises := 0
	for {
		job, err := service.NextJob(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("NextJob returned error: %v", err)
		}
		seen[job.Request.Language] = true
		if job.Exercise != nil {
			exercises++
		}
	}

	for _, lang := range execution.Languages() {
		if !seen[string(lang)] {
			t.Fatalf("default catalogue lacks a %s job", lang)
		}
	}
	if exercises == 0 {
		t.Fatalf("expected at least one exercise job")
	}
}

func TestNextJobReturnsEOFWhenExhausted(t *testing.T) {
	t.Parallel()

	service := NewService(execution.Job{ID: "only"})

	if _, err := service.NextJob(context.Background()); err != nil {
		t.Fatalf("NextJob returned error: %v", err)
	}

	_, err := service.NextJob(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestNextJobContextCancellation(t *testing.T) {
	t.Parallel()

	service := NewService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.NextJob(ctx)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAddJobAssignsIDWhenMissing(t *testing.T) {
	t.Parallel()

	service := NewService(execution.Job{ID: "first"})
	service.AddJob(execution.Job{Request: execution.Request{Language: "python", Source: "print('hello')"}})

	_, _ = service.NextJob(context.Background())

	job, err := service.NextJob(context.Background())
	if err != nil {
		t.Fatalf("NextJob returned error: %v", err)
	}
	if job.ID == "" {
		t.Fatalf("expected generated job ID")
	}
	if job.Request.Source != "print('hello')" {
		t.Fatalf("unexpected job source: %q", job.Request.Source)
	}
	if service.Len() != 2 {
		t.Fatalf("expected 2 catalogued jobs, got %d", service.Len())
	}
}

func TestAddJobPreservesExistingID(t *testing.T) {
	t.Parallel()

	service := NewService(execution.Job{ID: "first"})
	expectedID := "custom"
	service.AddJob(execution.Job{ID: expectedID})

	_, _ = service.NextJob(context.Background())

	job, err := service.NextJob(context.Background())
	if err != nil {
		t.Fatalf("NextJob returned error: %v", err)
	}
	if job.ID != expectedID {
		t.Fatalf("expected job ID %q, got %q", expectedID, job.ID)
	}
}
