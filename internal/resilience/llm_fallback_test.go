package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/perivale/sonara/pkg/provider/llm"
	llmmock "github.com/perivale/sonara/pkg/provider/llm/mock"
)

func TestLLMFallback_PrimaryServes(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
	}

	f := NewLLMFallback(primary, FallbackConfig{})
	f.AddFallback(secondary, FallbackConfig{})

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Fatalf("Content = %q, want from primary", resp.Content)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatal("secondary should not have been called")
	}
}

func TestLLMFallback_FailsOverToSecondary(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errTest}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
	}

	f := NewLLMFallback(primary, FallbackConfig{})
	f.AddFallback(secondary, FallbackConfig{})

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Fatalf("Content = %q, want from secondary", resp.Content)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errTest}

	f := NewLLMFallback(primary, FallbackConfig{})

	_, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Name(t *testing.T) {
	f := NewLLMFallback(&llmmock.Provider{}, FallbackConfig{})
	if got := f.Name(); got != "mock" {
		t.Fatalf("Name() = %q, want mock", got)
	}
}
